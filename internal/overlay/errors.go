package overlay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/siterisk/internal/polygon"
)

var (
	// ErrCatalogUnavailable means the layer list could not be read, so an
	// analysis without an explicit layer list cannot proceed.
	ErrCatalogUnavailable = eris.New("layer catalog unavailable")

	// ErrInvalidArgument covers missing layer names, attributes and
	// out-of-range distances.
	ErrInvalidArgument = eris.New("invalid argument")

	// ErrLayerNotFound is returned by Catalog.Describe for unknown layers.
	ErrLayerNotFound = eris.New("layer not found")

	// ErrInvalidPolygon is polygon.ErrInvalidPolygon, re-exported for callers
	// that only import this package.
	ErrInvalidPolygon = polygon.ErrInvalidPolygon
)

// LayerQueryError is a datastore failure scoped to one layer. Multi-layer
// operations record it in that layer's slot; single-layer operations return it.
type LayerQueryError struct {
	Layer   string
	Err     error
	Timeout time.Duration
}

func (e *LayerQueryError) Error() string {
	return fmt.Sprintf("layer %q: %s", e.Layer, e.Message())
}

func (e *LayerQueryError) Unwrap() error { return e.Err }

// Message is the client-facing description of the failure.
func (e *LayerQueryError) Message() string {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded):
		if e.Timeout > 0 {
			return fmt.Sprintf("query timed out after %s", e.Timeout)
		}
		return "query timed out"
	case errors.Is(e.Err, context.Canceled):
		return "query cancelled"
	case errors.As(e.Err, &pgErr):
		return pgErr.Message
	default:
		return e.Err.Error()
	}
}
