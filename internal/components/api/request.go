package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
)

// ErrNoUser is returned by a CurrentUser resolver for anonymous requests.
var ErrNoUser = errors.New("no authenticated user in context")

// CurrentUser resolves the authenticated user of a request.
type CurrentUser func(ctx context.Context) (*identity.User, error)

// PathID parses a positive integer chi URL parameter.
func PathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
