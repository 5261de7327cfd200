package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// VAPIDFile is the key file name under the data directory.
const VAPIDFile = "vapid.toml"

// VAPIDKeys is a VAPID key pair, base64url encoded.
type VAPIDKeys struct {
	Public  string `toml:"public"`
	Private string `toml:"private"`
}

// GenerateVAPIDKeys creates a new key pair.
func GenerateVAPIDKeys() (VAPIDKeys, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	return VAPIDKeys{Public: pub, Private: priv}, nil
}

// LoadOrCreateVAPIDKeys reads <dataDir>/vapid.toml, generating and writing
// it (mode 0600) when missing.
func LoadOrCreateVAPIDKeys(dataDir string, log *slog.Logger) (VAPIDKeys, error) {
	log = logutil.NoopIfNil(log)
	path := filepath.Join(dataDir, VAPIDFile)

	var keys VAPIDKeys
	_, err := toml.DecodeFile(path, &keys)
	switch {
	case err == nil && keys.Public != "" && keys.Private != "":
		return keys, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return VAPIDKeys{}, fmt.Errorf("read %s: %w", path, err)
	}

	keys, err = GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return VAPIDKeys{}, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return VAPIDKeys{}, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(keys); err != nil {
		return VAPIDKeys{}, fmt.Errorf("write %s: %w", path, err)
	}

	log.Info("generated vapid keys", "path", path)
	return keys, nil
}

// EnsureVAPID fills missing VAPID keys on s from the data directory.
func EnsureVAPID(s *Snapshot, dataDir string, log *slog.Logger) error {
	wp := &s.Notifications.WebPush
	if wp.VAPIDPublic != "" && wp.VAPIDPrivate != "" {
		return nil
	}
	keys, err := LoadOrCreateVAPIDKeys(dataDir, log)
	if err != nil {
		return err
	}
	wp.VAPIDPublic = keys.Public
	wp.VAPIDPrivate = keys.Private
	return nil
}
