// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

// Config holds the server configuration.
type Config struct {
	// Mode is the operating mode: prod or dev.
	Mode string `toml:"mode"`

	// PublicOrigin is the public origin (scheme + host + port) the app is
	// reached at. Used for the session cookie Secure flag.
	// Example: "https://streamarr.example.com"
	PublicOrigin string `toml:"public_origin"`

	// ListenAddr is the address to listen on when TLS is off.
	// Example: ":9080"
	ListenAddr string `toml:"listen_addr"`

	// DataDir holds the database, VAPID keys and certificates.
	DataDir string `toml:"data_dir"`

	// Server holds server-level settings.
	Server ServerConfig `toml:"server"`

	// TLS configuration
	TLS TLSConfig `toml:"tls"`

	// Store selects the persistence driver.
	Store StoreConfig `toml:"store"`

	// Cache configuration
	Cache CacheConfig `toml:"cache"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Jobs configures the scheduled maintenance jobs.
	Jobs JobsConfig `toml:"jobs"`

	// Settings is the application settings snapshot. Keys omitted from
	// [settings] keep their defaults.
	Settings settings.Snapshot `toml:"settings"`

	// HTTP holds per-service HTTP configuration.
	HTTP HTTPConfig `toml:"http"`
}

// HTTPConfig holds per-service HTTP configuration.
// Services are configured under [http.services.<svcname>].
// Interceptors are configured under [http.interceptors.<name>].
type HTTPConfig struct {
	// Services maps service names to their raw config maps.
	// Each service decodes its own config via cfg.Decode() with Setter interface.
	Services map[string]map[string]any `toml:"services"`

	// Interceptors maps interceptor names to their raw config maps.
	// Ratelimit profiles live at [http.interceptors.ratelimit.profiles.<name>].
	// Per-service opt-in is [http.services.<svc>.ratelimit] with profile = "<name>".
	Interceptors map[string]map[string]any `toml:"interceptors"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info in prod mode, debug in dev mode.
	Level string `toml:"level"`

	// Format is json or text. Default: json in prod, text in dev.
	Format string `toml:"format"`
}

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	// Driver is memory or sqlite. Default: sqlite.
	Driver string `toml:"driver"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.redis] addr = "localhost:6379"
	Drivers map[string]any `toml:"drivers"`
}

// JobsConfig holds the maintenance job schedules. Specs use the six field
// cron syntax with seconds.
type JobsConfig struct {
	// Enabled starts the scheduler with the server. Pointer for presence
	// detection; nil = use preset default.
	Enabled *bool `toml:"enabled"`

	ExpireInvites        string `toml:"expire_invites"`
	CleanupNotifications string `toml:"cleanup_notifications"`

	// NotificationRetentionDays is how long in-app notifications are kept.
	NotificationRetentionDays int `toml:"notification_retention_days"`
}

// ServerConfig holds server-level settings.
type ServerConfig struct {
	// TrustedProxies is a list of CIDR ranges for trusted reverse proxies.
	// X-Forwarded-* headers are only honored from these addresses.
	// Default: ["127.0.0.0/8", "::1/128"]
	TrustedProxies []string `toml:"trusted_proxies"`

	// SecureCookies sets the Secure flag on the session cookie.
	SecureCookies bool `toml:"secure_cookies"`

	// BootstrapAdmin holds owner account bootstrap configuration.
	BootstrapAdmin BootstrapAdminConfig `toml:"bootstrap_admin"`
}

// BootstrapAdminConfig holds bootstrap owner credentials.
type BootstrapAdminConfig struct {
	// Email for the owner account. Default: "admin@localhost"
	Email string `toml:"email"`

	// Password for the owner. If empty on first boot, a random password is generated.
	Password string `toml:"password"`

	// RotatePassword re-applies Password to an existing owner on startup.
	RotatePassword bool `toml:"rotate_password"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// HTTPPort for HTTP listener (used for ACME challenges and redirects)
	HTTPPort int `toml:"http_port"`

	// HTTPSPort for HTTPS listener
	HTTPSPort int `toml:"https_port"`

	// SelfSignedDir is where self-signed certs are stored
	SelfSignedDir string `toml:"self_signed_dir"`

	// ACME configuration
	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME/Let's Encrypt settings.
type ACMEConfig struct {
	// Email for ACME registration
	Email string `toml:"email"`

	// Domain is the domain to obtain a certificate for
	Domain string `toml:"domain"`

	// Directory is the ACME server URL (default: Let's Encrypt production)
	Directory string `toml:"directory"`

	// StorageDir is where ACME certificates and account info are stored
	StorageDir string `toml:"storage_dir"`

	// UseStaging uses Let's Encrypt staging (for testing)
	UseStaging bool `toml:"use_staging"`
}

// BuildServiceConfig returns the raw service config map for a given service name.
// Returns nil if the service is not configured in [http.services.<name>].
func (c *Config) BuildServiceConfig(serviceName string) map[string]any {
	if c.HTTP.Services == nil {
		return nil
	}
	svcCfg, ok := c.HTTP.Services[serviceName]
	if !ok {
		return nil
	}
	// Return a copy to prevent mutation
	result := make(map[string]any)
	for k, v := range svcCfg {
		result[k] = v
	}
	return result
}

// JobsEnabled returns whether the scheduler runs with the server.
// Safe for nil pointer on the *bool field.
func (c *Config) JobsEnabled() bool {
	return c.Jobs.Enabled != nil && *c.Jobs.Enabled
}

// CacheDriverConfig returns the raw config map for the selected cache driver.
func (c *Config) CacheDriverConfig() map[string]any {
	driver := c.Cache.Driver
	if driver == "" {
		driver = "memory"
	}
	if m, ok := c.Cache.Drivers[driver].(map[string]any); ok {
		return m
	}
	return nil
}

func redact(s string) string {
	if s == "" {
		return `""`
	}
	return "[REDACTED]"
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  Mode: %q,\n", c.Mode))
	sb.WriteString(fmt.Sprintf("  PublicOrigin: %q,\n", c.PublicOrigin))
	sb.WriteString(fmt.Sprintf("  ListenAddr: %q,\n", c.ListenAddr))
	sb.WriteString(fmt.Sprintf("  DataDir: %q,\n", c.DataDir))
	sb.WriteString("  Server: {\n")
	sb.WriteString(fmt.Sprintf("    TrustedProxies: %v,\n", c.Server.TrustedProxies))
	sb.WriteString(fmt.Sprintf("    SecureCookies: %v,\n", c.Server.SecureCookies))
	sb.WriteString("    BootstrapAdmin: {\n")
	sb.WriteString(fmt.Sprintf("      Email: %q,\n", c.Server.BootstrapAdmin.Email))
	sb.WriteString(fmt.Sprintf("      Password: %s,\n", redact(c.Server.BootstrapAdmin.Password)))
	sb.WriteString(fmt.Sprintf("      RotatePassword: %v,\n", c.Server.BootstrapAdmin.RotatePassword))
	sb.WriteString("    },\n")
	sb.WriteString("  },\n")
	sb.WriteString("  TLS: {\n")
	sb.WriteString(fmt.Sprintf("    Mode: %q,\n", c.TLS.Mode))
	sb.WriteString(fmt.Sprintf("    CertFile: %q,\n", c.TLS.CertFile))
	sb.WriteString(fmt.Sprintf("    KeyFile: %q,\n", c.TLS.KeyFile))
	sb.WriteString(fmt.Sprintf("    HTTPPort: %d,\n", c.TLS.HTTPPort))
	sb.WriteString(fmt.Sprintf("    HTTPSPort: %d,\n", c.TLS.HTTPSPort))
	sb.WriteString(fmt.Sprintf("    ACME.Domain: %q,\n", c.TLS.ACME.Domain))
	sb.WriteString("  },\n")
	sb.WriteString(fmt.Sprintf("  Store: {Driver: %q},\n", c.Store.Driver))
	sb.WriteString(fmt.Sprintf("  Cache: {Driver: %q},\n", c.Cache.Driver))
	sb.WriteString(fmt.Sprintf("  Logging: {Level: %q, Format: %q},\n", c.Logging.Level, c.Logging.Format))
	sb.WriteString("  Jobs: {\n")
	sb.WriteString(fmt.Sprintf("    Enabled: %v,\n", c.JobsEnabled()))
	sb.WriteString(fmt.Sprintf("    ExpireInvites: %q,\n", c.Jobs.ExpireInvites))
	sb.WriteString(fmt.Sprintf("    CleanupNotifications: %q,\n", c.Jobs.CleanupNotifications))
	sb.WriteString(fmt.Sprintf("    NotificationRetentionDays: %d,\n", c.Jobs.NotificationRetentionDays))
	sb.WriteString("  },\n")

	s := c.Settings
	sb.WriteString("  Settings: {\n")
	sb.WriteString(fmt.Sprintf("    ApplicationTitle: %q,\n", s.Main.ApplicationTitle))
	sb.WriteString(fmt.Sprintf("    ApplicationURL: %q,\n", s.Main.ApplicationURL))
	sb.WriteString(fmt.Sprintf("    Invites: %+v,\n", s.Invites))
	sb.WriteString(fmt.Sprintf("    Trial: %+v,\n", s.Trial))
	sb.WriteString(fmt.Sprintf("    Email: {Enabled: %v, SMTPHost: %q, SMTPPort: %d, AuthUser: %q, AuthPass: %s},\n",
		s.Notifications.Email.Enabled, s.Notifications.Email.SMTPHost, s.Notifications.Email.SMTPPort,
		s.Notifications.Email.AuthUser, redact(s.Notifications.Email.AuthPass)))
	sb.WriteString(fmt.Sprintf("    WebPush: {Enabled: %v, VAPIDPublic: %q, VAPIDPrivate: %s},\n",
		s.Notifications.WebPush.Enabled, s.Notifications.WebPush.VAPIDPublic, redact(s.Notifications.WebPush.VAPIDPrivate)))
	sb.WriteString(fmt.Sprintf("    InApp: {Enabled: %v},\n", s.Notifications.InApp.Enabled))
	sb.WriteString("  },\n")

	sb.WriteString("  HTTP: {\n")
	sb.WriteString(fmt.Sprintf("    ServicesCount: %d,\n", len(c.HTTP.Services)))
	if len(c.HTTP.Services) > 0 {
		names := make([]string, 0, len(c.HTTP.Services))
		for name := range c.HTTP.Services {
			names = append(names, fmt.Sprintf("%q", name))
		}
		sort.Strings(names)
		sb.WriteString("    Services: [" + strings.Join(names, ", ") + "],\n")
	}
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

// PublicScheme returns "http" or "https" from PublicOrigin.
// Returns "https" if PublicOrigin is empty or unparseable.
func (c *Config) PublicScheme() string {
	if c.PublicOrigin == "" {
		return "https"
	}
	u, err := url.Parse(c.PublicOrigin)
	if err != nil || u.Scheme == "" {
		return "https"
	}
	return strings.ToLower(u.Scheme)
}
