// Package realtime provides the /ws endpoint carrying live notification
// events.
package realtime

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/realtime"
	"github.com/nickelsh1ts/streamarr/internal/frameworks/service"
	svccfg "github.com/nickelsh1ts/streamarr/internal/frameworks/service/cfg"
	"github.com/nickelsh1ts/streamarr/internal/platform/deps"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/auth"
)

func init() {
	service.MustRegister("realtime", New)
}

// Config holds realtime service configuration. There are no options yet;
// the struct keeps unknown keys reported.
type Config struct{}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service is the websocket service. The hub itself is shared through deps
// so that notification agents can emit into it.
type Service struct {
	router chi.Router
	hub    *realtime.Hub
	log    *slog.Logger
}

// New creates the realtime service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "realtime", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}
	if d.Hub == nil {
		return nil, errors.New("realtime: hub not initialized")
	}

	s := &Service{hub: d.Hub, log: log}
	r := chi.NewRouter()
	r.Get("/", s.handleConnect)
	s.router = r
	return s, nil
}

// handleConnect upgrades a signed-in user's connection and joins it to
// the user's room.
func (s *Service) handleConnect(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	s.hub.ServeWS(w, r, user.ID)
}

func (s *Service) Handler() http.Handler {
	return s.router
}

func (s *Service) Prefix() string {
	return "ws"
}

func (s *Service) Unprotected() []string {
	return nil
}

// Close disconnects every client.
func (s *Service) Close() error {
	return s.hub.Close()
}
