package domain

import (
	"context"
	"net/http"
	"time"
)

// Sink is the persistence target for completed records. Implementations
// own the wire protocol and any retry policy; the recorder only hands
// them fully assembled tag and field sets.
type Sink interface {
	Write(ctx context.Context, measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) error
	Close() error
}

// Application is the narrow surface the recorder needs from a host
// framework: the ability to register one middleware on the request
// path. Framework adapters live under adapters/.
type Application interface {
	Use(middleware func(http.Handler) http.Handler)
}
