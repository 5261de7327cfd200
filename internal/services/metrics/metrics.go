// Package metrics provides the Prometheus scrape endpoint.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nickelsh1ts/streamarr/internal/frameworks/service"
	svccfg "github.com/nickelsh1ts/streamarr/internal/frameworks/service/cfg"
)

func init() {
	service.MustRegister("metrics", New)
}

// Config holds metrics service configuration.
type Config struct {
	// Enabled serves the scrape endpoint. When false the endpoint answers
	// 404. Pointer for presence detection; nil = enabled.
	Enabled *bool `mapstructure:"enabled"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
}

// Service serves the default Prometheus registry.
type Service struct {
	handler http.Handler
}

// New creates the metrics service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "metrics", "unused_keys", unused)
	}

	if !*c.Enabled {
		log.Info("metrics endpoint disabled")
		return &Service{handler: http.NotFoundHandler()}, nil
	}
	return &Service{handler: promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})}, nil
}

func (s *Service) Handler() http.Handler { return s.handler }

func (s *Service) Prefix() string { return "metrics" }

func (s *Service) Unprotected() []string { return nil }

func (s *Service) Close() error { return nil }
