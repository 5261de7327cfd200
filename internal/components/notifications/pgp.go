package notifications

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

var errNoPGPKeys = errors.New("no usable pgp keys")

// encryptPGP encrypts body to the armored public key and returns an armored
// PGP message.
func encryptPGP(body, armoredKey string) (string, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return "", fmt.Errorf("read pgp key: %w", err)
	}
	if len(keyring) == 0 {
		return "", errNoPGPKeys
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", err
	}
	pw, err := openpgp.Encrypt(aw, keyring, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("pgp encrypt: %w", err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return "", err
	}
	if err := pw.Close(); err != nil {
		return "", err
	}
	if err := aw.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
