package app

import (
	"errors"
	"fmt"

	"github.com/stellarlinkco/companion/internal/gateway"
	"github.com/stellarlinkco/companion/internal/store"
	"github.com/stellarlinkco/companion/internal/supervisor"
)

// Display renders any error from the facade as the single message shown to
// the user. Nil renders as "".
func Display(err error) string {
	if err == nil {
		return ""
	}

	var (
		statusErr   *gateway.StatusError
		notFoundErr *store.NotFoundError
	)
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("Gateway error (HTTP %d): %s", statusErr.StatusCode, statusErr.Body)
	case errors.Is(err, gateway.ErrTransport):
		return "Gateway unreachable: " + err.Error()
	case errors.Is(err, gateway.ErrDecode):
		return "Unexpected gateway response: " + err.Error()
	case errors.As(err, &notFoundErr):
		return fmt.Sprintf("No %s with id %q.", notFoundErr.Kind, notFoundErr.ID)
	case errors.Is(err, store.ErrDecode):
		return "Data file is corrupted: " + err.Error()
	case errors.Is(err, store.ErrRead):
		return "Cannot read data: " + err.Error()
	case errors.Is(err, store.ErrWrite):
		return "Cannot save data: " + err.Error()
	case errors.Is(err, store.ErrDirectoryMissing):
		return "Asset directory missing: " + err.Error()
	case errors.Is(err, store.ErrInvalidID), errors.Is(err, store.ErrInvalidName):
		return "Invalid input: " + err.Error()
	case errors.Is(err, supervisor.ErrNoCandidate):
		return "Cannot start services, no usable program found: " + err.Error()
	case errors.Is(err, supervisor.ErrSpawn):
		return "Cannot start services: " + err.Error()
	case errors.Is(err, supervisor.ErrStartupTimeout), errors.Is(err, supervisor.ErrExited):
		return "Services did not come up: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}
