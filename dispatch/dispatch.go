package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mnehpets/jsongate/envelope"
	"github.com/mnehpets/jsongate/registry"
)

const (
	// DefaultSlowWrite is the advisory threshold above which a response write
	// is logged as slow.
	DefaultSlowWrite = 2 * time.Second
	// DefaultGzipMin is the smallest response body eligible for compression.
	DefaultGzipMin = 512

	// maxPayloadBytes bounds how much argument payload is read from a POST body.
	maxPayloadBytes = 1 << 20
	// payloadLogLimit caps the payload copy included in the slow-write diagnostic.
	payloadLogLimit = 255
)

// Observer receives advisory dispatch measurements. Implementations must be
// safe for concurrent use. The metrics package provides a prometheus-backed
// implementation.
type Observer interface {
	ObserveDispatch(controller, method string, ok bool, elapsed time.Duration)
	ObserveWrite(elapsed time.Duration, slow bool)
}

// Processor is middleware-style logic that runs before dispatch.
//
// Protocol:
//   - Processors MUST call next(...), unless they intend to short-circuit
//     the request.
//   - A processor that writes the response itself commits it; the gateway
//     detects this and skips the envelope write.
//
// A non-nil error stops the chain; the error is classified and answered with
// a failure envelope like any handler failure.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// Gateway dispatches JSON RPC calls addressed as /<controller>/<method> to
// handlers resolved through a provider chain, and answers every call with an
// envelope over HTTP 200. It is an http.Handler; mount it wherever the host
// router routes RPC traffic.
//
// The zero value of every optional field is usable: Logger defaults to
// slog.Default, SlowWrite to DefaultSlowWrite, GzipMin to DefaultGzipMin.
type Gateway struct {
	Chain      registry.Chain
	Processors []Processor

	Logger   *slog.Logger
	Observer Observer

	// SlowWrite overrides the slow-write diagnostic threshold.
	SlowWrite time.Duration
	// GzipMin overrides the compression size floor.
	GzipMin int
}

// New constructs a Gateway over a provider chain.
func New(chain registry.Chain, processors ...Processor) *Gateway {
	return &Gateway{Chain: chain, Processors: processors}
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *Gateway) slowWrite() time.Duration {
	if g.SlowWrite > 0 {
		return g.SlowWrite
	}
	return DefaultSlowWrite
}

func (g *Gateway) gzipMin() int {
	if g.GzipMin > 0 {
		return g.GzipMin
	}
	return DefaultGzipMin
}

// reqState is per-call scratch state: the status flag a handler may force to
// false, its deferred failure message, and in-flight metadata for diagnostics.
// It lives only in the request context, never in a Gateway field, so pooled
// goroutines cannot leak it into a later unrelated request.
type reqState struct {
	failed  bool
	message string

	target  registry.Target
	payload string
	ok      bool
}

type stateKey struct{}

func newState(ctx context.Context) (context.Context, *reqState) {
	st := &reqState{}
	return context.WithValue(ctx, stateKey{}, st), st
}

func stateFrom(ctx context.Context) *reqState {
	st, _ := ctx.Value(stateKey{}).(*reqState)
	return st
}

func (st *reqState) clear() {
	*st = reqState{}
}

// Fail forces the current call to be reported as failed regardless of the
// handler's return value. The message replaces the envelope's data and the
// wire status is pinned to false. Outside a dispatch this is a no-op.
func Fail(ctx context.Context, message string) {
	if st := stateFrom(ctx); st != nil {
		st.failed = true
		st.message = message
	}
}

// ServeHTTP implements http.Handler. One call runs entirely on the host
// server's goroutine; the gateway spawns nothing and shares nothing between
// concurrent calls.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw := &commitWriter{ResponseWriter: w}
	ctx, st := newState(r.Context())
	// Cleared on every exit path, including panics propagating through.
	defer st.clear()
	r = r.WithContext(ctx)
	start := time.Now()

	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < len(g.Processors) {
			p := g.Processors[i]
			if p == nil {
				return errors.New("dispatch: nil processor")
			}
			return p.Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}
		env, answer := g.dispatch(r2)
		if answer {
			g.respond(w2, r2, env)
		}
		return nil
	}

	if err := run(0, cw, r); err != nil {
		cls := g.classify(err)
		if cls.Kind != KindClientDisconnected {
			g.respond(cw, r, cls.Envelope)
		}
	}

	if g.Observer != nil {
		g.Observer.ObserveDispatch(st.target.Controller, st.target.Method, st.ok, time.Since(start))
	}
}

// dispatch runs the resolve/invoke pipeline for one request and produces the
// response envelope. The second return is false only when the client has
// disconnected and no response should be attempted.
func (g *Gateway) dispatch(r *http.Request) (envelope.Envelope, bool) {
	st := stateFrom(r.Context())

	payload, failEnv, ok := argumentPayload(r)
	if !ok {
		return failEnv, true
	}
	st.payload = payload

	target, err := registry.ParseTarget(r.URL.Path)
	if err != nil {
		return envelope.Failure("error: malformed request URL " + r.URL.Path), true
	}
	st.target = target

	handler, found := g.Chain.Resolve(target.Controller)
	if !found {
		return envelope.Failure("error: controller " + target.Controller + " could not be resolved"), true
	}

	var args []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &args); err != nil {
		return envelope.Failure(msgInvalidJSON), true
	}

	value, err := invoke(r.Context(), registry.Binding{Target: target, Handler: handler}, args)
	if err != nil {
		var ie *registry.InvokeError
		if errors.As(err, &ie) {
			// Request-shape problem, not a handler failure: answered
			// directly, never logged as unexpected.
			return envelope.Failure("error: " + ie.Error()), true
		}
		cls := g.classify(err)
		if cls.Kind == KindClientDisconnected {
			return envelope.Envelope{}, false
		}
		return cls.Envelope, true
	}
	return envelope.Success(value), true
}

// argumentPayload extracts the JSON argument array for the call. Violations
// fail fast with a failure envelope before any resolution is attempted.
func argumentPayload(r *http.Request) (string, envelope.Envelope, bool) {
	switch r.Method {
	case http.MethodGet:
		p := r.URL.Query().Get("json")
		if strings.TrimSpace(p) == "" {
			return "", envelope.Failure("error: missing or empty json parameter"), false
		}
		return p, envelope.Envelope{}, true
	case http.MethodPost:
		if r.ContentLength < 1 {
			return "", envelope.Failure("error: request body is empty (Content-Length must be >= 1)"), false
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			return "", envelope.Failure(msgInvalidJSON), false
		}
		return string(body), envelope.Envelope{}, true
	default:
		return "", envelope.Failure("error: unsupported method " + r.Method), false
	}
}

// invoke calls the bound handler under a recover barrier. Panics become
// errors for the classifier, except the transport abort signal, which must
// propagate untouched. runtime.Goexit is not a panic and always propagates.
func invoke(ctx context.Context, b registry.Binding, args []json.RawMessage) (value any, err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if p == http.ErrAbortHandler {
			panic(p)
		}
		if perr, ok := p.(error); ok {
			err = fmt.Errorf("handler panic: %w", perr)
		} else {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return b.Handler.Invoke(ctx, b.Target.Method, args)
}
