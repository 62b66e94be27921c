// Package muxrouter adapts a gorilla/mux router to the recorder's
// Application contract.
package muxrouter

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router wraps *mux.Router. It is a comparable value, so the recorder
// can tell re-attachment to the same router apart from a new one.
type Router struct {
	r *mux.Router
}

// Wrap returns an adapter for r.
func Wrap(r *mux.Router) Router {
	return Router{r: r}
}

// Use registers middleware on the wrapped router.
func (a Router) Use(middleware func(http.Handler) http.Handler) {
	a.r.Use(mux.MiddlewareFunc(middleware))
}
