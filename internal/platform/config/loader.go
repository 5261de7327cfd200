// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeProd Mode = "prod"
	ModeDev  Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production", "":
		return ModeProd, nil
	case "dev", "development":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of prod, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr    *string
	PublicOrigin  *string
	DataDir       *string
	TLSMode       *string
	StoreDriver   *string
	CacheDriver   *string
	AdminEmail    *string
	AdminPassword *string
	LoggingLevel  *string
	LoggingFormat *string
	JobsEnabled   *string // "true", "false", or "" (unset)
}

// fileConfig mirrors Config but with pointer fields to detect presence.
type fileConfig struct {
	Mode   string        `toml:"mode"`
	Server *serverConfig `toml:"server"`

	PublicOrigin string `toml:"public_origin"`
	ListenAddr   string `toml:"listen_addr"`
	DataDir      string `toml:"data_dir"`

	TLS      *TLSConfig     `toml:"tls"`
	Store    *StoreConfig   `toml:"store"`
	Cache    *CacheConfig   `toml:"cache"`
	Logging  *LoggingConfig `toml:"logging"`
	Jobs     *JobsConfig    `toml:"jobs"`
	HTTP     *HTTPConfig    `toml:"http"`
	Settings toml.Primitive `toml:"settings"`
}

// serverConfig holds server-specific settings in TOML.
type serverConfig struct {
	TrustedProxies []string        `toml:"trusted_proxies"`
	SecureCookies  *bool           `toml:"secure_cookies"`
	BootstrapAdmin *bootstrapAdmin `toml:"bootstrap_admin"`
}

// bootstrapAdmin holds bootstrap owner credentials in TOML.
type bootstrapAdmin struct {
	Email          string `toml:"email"`
	Password       string `toml:"password"`
	RotatePassword bool   `toml:"rotate_password"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (prod)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values; [settings] decodes onto the preset
//     snapshot so omitted keys keep their defaults
//  4. Overlay CLI flags
//  5. Validate enum fields and settings
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		fc fileConfig
		md toml.MetaData
	)

	// Step 1: Load TOML file if provided
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err = toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
	}

	// Step 2: Determine effective mode
	modeStr := string(ModeProd)
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	// Step 3: Start from mode preset
	cfg := presetForMode(mode)

	// Step 4: Overlay TOML values
	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
		if md.IsDefined("settings") {
			if err := md.PrimitiveDecode(fc.Settings, &cfg.Settings); err != nil {
				return nil, fmt.Errorf("failed to decode [settings] in %s: %w", opts.ConfigPath, err)
			}
		}

		// Undecoded is only complete after the [settings] primitive is decoded.
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	// Step 5: Overlay CLI flags
	overlayFlags(cfg, opts.FlagOverrides)

	// Step 6: Derive paths that default under the data dir
	derivePaths(cfg)

	// Step 7: Validate enum fields (fatal on invalid values)
	if err := validateEnums(cfg); err != nil {
		return nil, err
	}

	// Step 8: Validate public_origin format (fail fast on invalid URL)
	if err := validatePublicOrigin(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return cfg, nil
}

// ptrBool returns a pointer to the given bool value.
func ptrBool(b bool) *bool { return &b }

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	switch mode {
	case ModeDev:
		return DevConfig()
	default:
		return ProdConfig()
	}
}

// ProdConfig returns production defaults. TLS is off because the app
// normally sits behind a reverse proxy.
func ProdConfig() *Config {
	return &Config{
		Mode:         string(ModeProd),
		PublicOrigin: "",
		ListenAddr:   ":9080",
		DataDir:      "config",
		Server: ServerConfig{
			TrustedProxies: []string{"127.0.0.0/8", "::1/128"},
			SecureCookies:  true,
			BootstrapAdmin: BootstrapAdminConfig{Email: "admin@localhost"},
		},
		TLS: TLSConfig{
			Mode:      "off",
			HTTPPort:  9080,
			HTTPSPort: 9443,
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				UseStaging: false,
			},
		},
		Store: StoreConfig{Driver: "sqlite"},
		Cache: CacheConfig{Driver: "memory"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Jobs: JobsConfig{
			Enabled:                   ptrBool(true),
			ExpireInvites:             "0 0 1 * * *",
			CleanupNotifications:      "0 0 2 * * *",
			NotificationRetentionDays: 365,
		},
		Settings: settings.Defaults(),
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := ProdConfig()
	cfg.Mode = string(ModeDev)
	cfg.DataDir = ".streamarr"
	cfg.Server.SecureCookies = false
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.PublicOrigin != "" {
		cfg.PublicOrigin = fc.PublicOrigin
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}

	if fc.Server != nil {
		if len(fc.Server.TrustedProxies) > 0 {
			cfg.Server.TrustedProxies = fc.Server.TrustedProxies
		}
		if fc.Server.SecureCookies != nil {
			cfg.Server.SecureCookies = *fc.Server.SecureCookies
		}
		if fc.Server.BootstrapAdmin != nil {
			if fc.Server.BootstrapAdmin.Email != "" {
				cfg.Server.BootstrapAdmin.Email = fc.Server.BootstrapAdmin.Email
			}
			cfg.Server.BootstrapAdmin.Password = fc.Server.BootstrapAdmin.Password
			cfg.Server.BootstrapAdmin.RotatePassword = fc.Server.BootstrapAdmin.RotatePassword
		}
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.HTTPPort != 0 {
			cfg.TLS.HTTPPort = fc.TLS.HTTPPort
		}
		if fc.TLS.HTTPSPort != 0 {
			cfg.TLS.HTTPSPort = fc.TLS.HTTPSPort
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
		if fc.TLS.ACME.Email != "" {
			cfg.TLS.ACME.Email = fc.TLS.ACME.Email
		}
		if fc.TLS.ACME.Domain != "" {
			cfg.TLS.ACME.Domain = fc.TLS.ACME.Domain
		}
		if fc.TLS.ACME.Directory != "" {
			cfg.TLS.ACME.Directory = fc.TLS.ACME.Directory
		}
		if fc.TLS.ACME.StorageDir != "" {
			cfg.TLS.ACME.StorageDir = fc.TLS.ACME.StorageDir
		}
		// UseStaging is a bool, we overlay it if the TLS section is present
		cfg.TLS.ACME.UseStaging = fc.TLS.ACME.UseStaging
	}

	if fc.Store != nil && fc.Store.Driver != "" {
		cfg.Store.Driver = fc.Store.Driver
	}

	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if len(fc.Cache.Drivers) > 0 {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		if fc.Logging.Format != "" {
			cfg.Logging.Format = fc.Logging.Format
		}
	}

	if fc.Jobs != nil {
		if fc.Jobs.Enabled != nil {
			cfg.Jobs.Enabled = fc.Jobs.Enabled
		}
		if fc.Jobs.ExpireInvites != "" {
			cfg.Jobs.ExpireInvites = fc.Jobs.ExpireInvites
		}
		if fc.Jobs.CleanupNotifications != "" {
			cfg.Jobs.CleanupNotifications = fc.Jobs.CleanupNotifications
		}
		if fc.Jobs.NotificationRetentionDays != 0 {
			cfg.Jobs.NotificationRetentionDays = fc.Jobs.NotificationRetentionDays
		}
	}

	if fc.HTTP != nil {
		if len(fc.HTTP.Services) > 0 {
			if cfg.HTTP.Services == nil {
				cfg.HTTP.Services = make(map[string]map[string]any)
			}
			for name, svcCfg := range fc.HTTP.Services {
				cfg.HTTP.Services[name] = svcCfg
			}
		}
		if len(fc.HTTP.Interceptors) > 0 {
			if cfg.HTTP.Interceptors == nil {
				cfg.HTTP.Interceptors = make(map[string]map[string]any)
			}
			for name, intCfg := range fc.HTTP.Interceptors {
				cfg.HTTP.Interceptors[name] = intCfg
			}
		}
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	set := func(dst *string, v *string) {
		if v != nil && *v != "" {
			*dst = *v
		}
	}
	set(&cfg.ListenAddr, f.ListenAddr)
	set(&cfg.PublicOrigin, f.PublicOrigin)
	set(&cfg.DataDir, f.DataDir)
	set(&cfg.TLS.Mode, f.TLSMode)
	set(&cfg.Store.Driver, f.StoreDriver)
	set(&cfg.Cache.Driver, f.CacheDriver)
	set(&cfg.Server.BootstrapAdmin.Email, f.AdminEmail)
	set(&cfg.Server.BootstrapAdmin.Password, f.AdminPassword)
	set(&cfg.Logging.Level, f.LoggingLevel)
	set(&cfg.Logging.Format, f.LoggingFormat)
	if f.JobsEnabled != nil && *f.JobsEnabled != "" {
		// Parse "true" or "false" string (only apply when explicitly set)
		enabled := *f.JobsEnabled == "true"
		cfg.Jobs.Enabled = &enabled
	}
}

// derivePaths roots unset TLS storage paths under the data dir.
func derivePaths(cfg *Config) {
	if cfg.TLS.SelfSignedDir == "" {
		cfg.TLS.SelfSignedDir = filepath.Join(cfg.DataDir, "certs")
	}
	if cfg.TLS.ACME.StorageDir == "" {
		cfg.TLS.ACME.StorageDir = filepath.Join(cfg.DataDir, "acme")
	}
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	// tls.mode
	switch cfg.TLS.Mode {
	case "off", "static", "selfsigned", "acme":
		// valid
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, selfsigned, acme", cfg.TLS.Mode)
	}
	if cfg.TLS.Mode == "static" && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.mode is static")
	}
	if cfg.TLS.Mode == "acme" && cfg.TLS.ACME.Domain == "" {
		return fmt.Errorf("tls.acme.domain is required when tls.mode is acme")
	}

	// store.driver
	switch cfg.Store.Driver {
	case "memory", "sqlite":
		// valid
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, sqlite", cfg.Store.Driver)
	}

	// cache.driver (empty defaults to memory)
	switch cfg.Cache.Driver {
	case "", "memory", "redis":
		// valid (empty defaults to memory)
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory or redis", cfg.Cache.Driver)
	}

	// logging
	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("invalid logging.format %q: must be one of json, text", cfg.Logging.Format)
	}

	// jobs
	for name, spec := range map[string]string{
		"jobs.expire_invites":        cfg.Jobs.ExpireInvites,
		"jobs.cleanup_notifications": cfg.Jobs.CleanupNotifications,
	} {
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}
	if cfg.Jobs.NotificationRetentionDays < 1 {
		return fmt.Errorf("invalid jobs.notification_retention_days %d: must be at least 1", cfg.Jobs.NotificationRetentionDays)
	}

	// http.interceptors.ratelimit validation (fail fast)
	if err := validateRatelimitConfig(cfg); err != nil {
		return err
	}

	return nil
}

// validateRatelimitConfig validates ratelimit interceptor configuration.
// Profiles are defined at [http.interceptors.ratelimit.profiles.<name>].
// Services opt-in via [http.services.<svc>.ratelimit] with profile = "<name>".
// If a service references a profile, that profile must exist.
func validateRatelimitConfig(cfg *Config) error {
	profiles := make(map[string]bool)
	if rlCfg, ok := cfg.HTTP.Interceptors["ratelimit"]; ok {
		if profilesRaw, ok := rlCfg["profiles"]; ok {
			profilesMap, ok := profilesRaw.(map[string]any)
			if !ok {
				return fmt.Errorf("http.interceptors.ratelimit.profiles must be a map")
			}
			for name, profile := range profilesMap {
				if _, ok := profile.(map[string]any); !ok {
					return fmt.Errorf("http.interceptors.ratelimit.profiles.%s must be a map", name)
				}
				profiles[name] = true
			}
		}
	}

	for svcName, svcCfg := range cfg.HTTP.Services {
		rlMap, ok := svcCfg["ratelimit"].(map[string]any)
		if !ok {
			continue
		}
		if profileStr, ok := rlMap["profile"].(string); ok && !profiles[profileStr] {
			return fmt.Errorf("http.services.%s.ratelimit references undefined profile %q", svcName, profileStr)
		}
	}

	return nil
}

// validatePublicOrigin checks the public_origin config value when set.
// Must be an absolute URL with http/https scheme, a host, no userinfo,
// query, fragment, or path. Whitespace is rejected, not trimmed.
func validatePublicOrigin(cfg *Config) error {
	if cfg.PublicOrigin == "" {
		return nil
	}

	origin := cfg.PublicOrigin

	if origin != strings.TrimSpace(origin) {
		return fmt.Errorf("invalid public_origin %q: must not contain leading or trailing whitespace", origin)
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid public_origin %q: %w", origin, err)
	}

	if !u.IsAbs() {
		return fmt.Errorf("invalid public_origin %q: must be an absolute URL with http or https scheme", origin)
	}

	switch u.Scheme {
	case "http", "https":
		// valid
	default:
		return fmt.Errorf("invalid public_origin %q: scheme must be http or https, got %q", origin, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("invalid public_origin %q: must include a host", origin)
	}

	if u.User != nil {
		return fmt.Errorf("invalid public_origin %q: must not include userinfo", origin)
	}

	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid public_origin %q: must not include a query string or fragment", origin)
	}

	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid public_origin %q: must not include a path", origin)
	}

	return nil
}
