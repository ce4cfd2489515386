// Package registry maps controller names to invocable handlers.
//
// A request addresses a fixed URL shape .../<controller>/<method>. ParseTarget
// extracts the pair, and a Chain of Providers resolves the controller name to
// a Handler. Providers are consulted in order; the first one that knows the
// name wins, deterministically. A provider miss is soft; only exhausting the
// whole chain is a resolution failure.
//
// Two providers ship with the package: Static, a fixed name->handler table,
// and ServiceSet, a reflection-based registry of Go methods (see service.go).
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedPath is returned by ParseTarget when the request path does not
// end in a /<controller>/<method> pair.
var ErrMalformedPath = errors.New("registry: malformed request URL")

// Target identifies the addressee of a call.
type Target struct {
	Controller string
	Method     string
}

// ParseTarget extracts the trailing controller/method pair from a URL path.
// Mount prefixes (e.g. /gateway/foo/bar) are ignored; only the last two
// segments matter.
func ParseTarget(path string) (Target, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 {
		return Target{}, ErrMalformedPath
	}
	controller, method := segs[len(segs)-2], segs[len(segs)-1]
	if controller == "" || method == "" {
		return Target{}, ErrMalformedPath
	}
	return Target{Controller: controller, Method: method}, nil
}

// Handler is an invocable controller. args is the positional JSON argument
// array from the request, one raw element per parameter.
type Handler interface {
	Invoke(ctx context.Context, method string, args []json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, method string, args []json.RawMessage) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, method string, args []json.RawMessage) (any, error) {
	return f(ctx, method, args)
}

// Binding is the resolved addressee of one call. It is produced by a resolve,
// consumed once, and never cached across calls.
type Binding struct {
	Target  Target
	Handler Handler
}

// Provider resolves controller names. A false return is a soft miss, not an
// error: the caller moves on to the next provider.
type Provider interface {
	TryResolve(name string) (Handler, bool)
}

// Chain is an ordered list of providers. Order is part of the contract: a
// name known to several providers always resolves to the earliest one.
type Chain []Provider

// Resolve consults each provider in order and returns the first hit.
func (c Chain) Resolve(name string) (Handler, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if h, ok := p.TryResolve(name); ok {
			return h, true
		}
	}
	return nil, false
}

// Static is a fixed controller table, populated at startup and read-only
// afterwards.
type Static map[string]Handler

func (s Static) TryResolve(name string) (Handler, bool) {
	h, ok := s[name]
	return h, ok
}

// InvokeError reports a request-shape problem found while invoking a handler:
// an unknown method, a wrong argument count, or an argument that does not
// decode into the parameter type. These are client errors, not handler
// failures.
type InvokeError struct {
	Target Target
	Reason string
}

func (e *InvokeError) Error() string {
	return e.Target.Controller + "." + e.Target.Method + ": " + e.Reason
}
