// Package fluxlog logs completed HTTP request/response cycles as
// structured records (tags + fields) to a time-series sink, InfluxDB by
// default. It hooks into the request path as a standard net/http
// middleware: the pre-phase captures request attributes and the start
// time, the post-phase captures the response, assembles the record and
// hands it to the sink. Sink failures go to an optional callback and
// never reach the request path.
package fluxlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fluxlog/fluxlog/config"
	"github.com/fluxlog/fluxlog/domain"
	"github.com/fluxlog/fluxlog/domain/record"
	"github.com/fluxlog/fluxlog/sink/influx"
)

// binding is the state a successful Attach produces. The middleware
// reads it through the recorder on every request, so re-attaching swaps
// behavior without layering hooks.
type binding struct {
	cfg         config.Config
	sink        domain.Sink
	measurement string
	allowed     map[int]struct{}
}

// Recorder registers lifecycle hooks on an application and writes one
// record per completed cycle to its sink. Construction is pure; Attach
// performs the actual binding, so applications built before their
// extensions are supported.
type Recorder struct {
	mu       sync.RWMutex
	b        *binding
	onError  func(error)
	apps     []domain.Application
	warnOnce sync.Once
}

// New returns an unbound Recorder. Call Attach (or AttachSink) to bind
// it to an application.
func New() *Recorder {
	return &Recorder{}
}

// OnError registers the callback invoked with sink write failures. With
// no callback registered failures are dropped: request handling never
// fails because logging failed.
func (rec *Recorder) OnError(fn func(error)) {
	rec.mu.Lock()
	rec.onError = fn
	rec.mu.Unlock()
}

// Attach validates cfg, builds the InfluxDB sink and registers the
// middleware on app. Attaching the same application again replaces the
// active configuration instead of adding a second hook.
func (rec *Recorder) Attach(app domain.Application, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("fluxlog: attach without usable configuration: %w", err)
	}
	s, err := influx.New(cfg)
	if err != nil {
		return fmt.Errorf("fluxlog: %w", err)
	}
	return rec.AttachSink(app, cfg, s)
}

// AttachSink is Attach with a caller-supplied sink. The sink stands in
// for the connection parameters, so only the logging options of cfg are
// consulted.
func (rec *Recorder) AttachSink(app domain.Application, cfg config.Config, s domain.Sink) error {
	if app == nil {
		return errors.New("fluxlog: nil application")
	}
	if s == nil {
		return errors.New("fluxlog: nil sink")
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = config.DefaultMeasurement
	}
	allowed := make(map[int]struct{}, len(cfg.StatusCodeOnly))
	for _, code := range cfg.StatusCodeOnly {
		allowed[code] = struct{}{}
	}

	rec.mu.Lock()
	rec.b = &binding{cfg: cfg, sink: s, measurement: measurement, allowed: allowed}
	registered := false
	for _, known := range rec.apps {
		if known == app {
			registered = true
			break
		}
	}
	if !registered {
		rec.apps = append(rec.apps, app)
	}
	rec.mu.Unlock()

	// One hook per application keeps a second Attach last-write-wins.
	if !registered {
		app.Use(rec.Middleware())
	}
	return nil
}

// Close releases the active sink, if any.
func (rec *Recorder) Close() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.b == nil {
		return nil
	}
	err := rec.b.sink.Close()
	rec.b = nil
	return err
}

// Middleware returns the lifecycle hook pair as one net/http
// middleware. Until Attach has supplied a configuration it passes
// requests through untouched.
func (rec *Recorder) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := rec.binding()
			if b == nil {
				rec.warnOnce.Do(func() {
					log.Warn("[fluxlog] middleware active before Attach; requests pass through unlogged")
				})
				next.ServeHTTP(w, r)
				return
			}

			// Pre-phase: capture the request as it arrived. The entry is
			// local to this invocation, so overlapping requests cannot
			// interleave timing or attributes.
			entry := record.Capture(r, b.cfg.Namespace)
			rw := newResponseRecorder(w)

			defer func() {
				p := recover()
				if p != nil && !rw.wroteHeader {
					// The handler died before producing a response. Log the
					// 500 the server substitutes, then let the panic
					// continue to the server's own recovery.
					rw.status = http.StatusInternalServerError
				}
				rec.flush(b, entry, rw)
				if p != nil {
					panic(p)
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// flush runs the post-phase: complete the record, apply the status-code
// allow-list and hand the record to the sink.
func (rec *Recorder) flush(b *binding, entry *record.Record, rw *responseRecorder) {
	entry.Complete(rw.status, rw.body.Bytes(), rw.Header().Get("Content-Type"), time.Now().UTC())

	if len(b.allowed) > 0 {
		if _, ok := b.allowed[entry.StatusCode]; !ok {
			return
		}
	}

	err := b.sink.Write(context.Background(), b.measurement, entry.Tags(), entry.Fields(), entry.Start)
	if err == nil {
		return
	}

	rec.mu.RLock()
	onError := rec.onError
	rec.mu.RUnlock()
	if onError != nil {
		onError(err)
		return
	}
	log.Debugf("[fluxlog] dropping record for %s %s: %v", entry.Method, entry.Path, err)
}

func (rec *Recorder) binding() *binding {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.b
}

// responseRecorder wraps http.ResponseWriter to capture the status code
// and a copy of the body on its way out to the client.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
