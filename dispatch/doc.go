// Package dispatch routes JSON RPC calls of the form
//
//	GET  /<controller>/<method>?json=<url-encoded JSON array of arguments>
//	POST /<controller>/<method>   (body = JSON array of arguments)
//
// to handlers resolved through an ordered provider chain, and answers every
// call with HTTP 200 carrying the envelope
//
//	{"data":<json-value-or-null>,"status":<true|false|null>}
//
// Errors travel inside the envelope, never as HTTP status codes. The only
// calls not answered are those whose client has already disconnected.
//
// # Basic Usage
//
// Build a chain, construct a Gateway, and mount it:
//
//	services := registry.NewServiceSet()
//	services.Register("math", &MathService{})
//	gw := dispatch.New(registry.Chain{services})
//	http.Handle("/", gw)
//	http.ListenAndServe(":8080", nil)
//
// Handlers are methods on a receiver struct:
//
//	type MathService struct{}
//
//	type AddParams struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
//	func (s *MathService) Add(ctx context.Context, p AddParams) (int, error) {
//	    return p.A + p.B, nil
//	}
//
// A call to /math/Add?json=[2,3] answers {"data":5,"status":true}.
//
// # Provider Chains
//
// The chain is ordered: the first provider that knows a controller name wins.
// A name registered in both a primary and a fallback provider always resolves
// to the primary's handler.
//
// # Failure Classification
//
// A failing call is walked to its root cause and classified: client
// disconnects are logged and not answered, I/O failures and authorization
// failures answer with fixed messages, and anything else answers with a
// generic communications-issue message. The wire status is false in every
// failure case.
//
// # Forced Failure
//
// A handler may force the call to fail regardless of its return value:
//
//	dispatch.Fail(ctx, "quota exhausted")
//
// The message replaces the envelope data and the status is pinned to false.
//
// # Compression
//
// Bodies over 512 bytes are gzip-compressed when the client accepts gzip and
// compression actually shrinks the body; Content-Encoding is set only then.
package dispatch
