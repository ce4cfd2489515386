package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/mnehpets/jsongate/envelope"
)

// Envelope messages for classified failures. The exact wording is part of the
// wire contract with legacy clients.
const (
	msgInvalidJSON    = "error: Invalid JSON request made."
	msgSessionExpired = "error: Your session has expired. Please sign in again."
)

// Kind tags the classification of a failure's root cause.
type Kind int

const (
	KindUnexpected Kind = iota
	KindClientDisconnected
	KindNetworkFailure
	KindAuthFailure
)

func (k Kind) String() string {
	switch k {
	case KindClientDisconnected:
		return "client_disconnected"
	case KindNetworkFailure:
		return "network_failure"
	case KindAuthFailure:
		return "auth_failure"
	default:
		return "unexpected"
	}
}

// Classification is the result of root-causing a failure. Envelope is unset
// for KindClientDisconnected: there is no client left to answer.
type Classification struct {
	Kind     Kind
	Root     error
	Envelope envelope.Envelope
}

// authFailure is the capability an error advertises to be classified as an
// authorization failure. middleware.ErrSessionExpired implements it; so can
// any collaborator error.
type authFailure interface {
	AuthFailure() bool
}

// classify walks err's cause chain to its root, maps the root to a response
// category, and logs it at a severity reflecting how expected it is.
func (g *Gateway) classify(err error) Classification {
	root := rootCause(err)
	cls := Classification{Root: root}

	switch {
	case isDisconnect(root):
		cls.Kind = KindClientDisconnected
		g.logger().Warn("client disconnected before response", slog.Any("cause", root))
	case isAuthFailure(err, root):
		cls.Kind = KindAuthFailure
		cls.Envelope = envelope.Failure(msgSessionExpired)
		g.logger().Warn("authorization failure", slog.Any("cause", root))
	case isNetworkFailure(root):
		cls.Kind = KindNetworkFailure
		cls.Envelope = envelope.Failure(msgInvalidJSON)
		g.logger().Warn("i/o failure during call", slog.Any("cause", root))
	default:
		cls.Kind = KindUnexpected
		cls.Envelope = envelope.Failure(fmt.Sprintf(
			"error: Communications issue between your computer and our website (%T %s)",
			root, root.Error()))
		g.logger().Error("unexpected failure during call",
			slog.Any("error", err),
			slog.String("root_type", fmt.Sprintf("%T", root)))
	}
	return cls
}

// rootCause walks the Unwrap chain to the deepest error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// isDisconnect reports whether root is the transport telling us the client is
// gone mid-response.
func isDisconnect(root error) bool {
	return root == http.ErrAbortHandler ||
		errors.Is(root, context.Canceled) ||
		errors.Is(root, syscall.EPIPE) ||
		errors.Is(root, syscall.ECONNRESET)
}

func isAuthFailure(err, root error) bool {
	var af authFailure
	if errors.As(err, &af) && af.AuthFailure() {
		return true
	}
	return errors.Is(root, fs.ErrPermission)
}

func isNetworkFailure(root error) bool {
	var ne net.Error
	if errors.As(root, &ne) {
		return true
	}
	var se *os.SyscallError
	if errors.As(root, &se) {
		return true
	}
	return errors.Is(root, io.EOF) || errors.Is(root, io.ErrUnexpectedEOF)
}
