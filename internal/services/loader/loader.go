// Package loader triggers service and interceptor registration via blank
// imports. Import this package to ensure all services are registered with
// the registry.
package loader

import (
	_ "github.com/nickelsh1ts/streamarr/internal/interceptors/ratelimit"
	_ "github.com/nickelsh1ts/streamarr/internal/services/api"
	_ "github.com/nickelsh1ts/streamarr/internal/services/metrics"
	_ "github.com/nickelsh1ts/streamarr/internal/services/realtime"
)
