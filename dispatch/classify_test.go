package dispatch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"testing"
)

type fakeAuthErr struct{}

func (fakeAuthErr) Error() string     { return "token rejected" }
func (fakeAuthErr) AuthFailure() bool { return true }

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "deadline" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func quietGateway() *Gateway {
	g := New(nil)
	g.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return g
}

func TestRootCause(t *testing.T) {
	root := errors.New("root")
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("middle: %w", root))
	if got := rootCause(wrapped); got != root {
		t.Errorf("rootCause = %v, want %v", got, root)
	}
	if got := rootCause(root); got != root {
		t.Errorf("rootCause of unwrapped = %v, want %v", got, root)
	}
}

func TestClassifyByRootNotWrapper(t *testing.T) {
	g := quietGateway()

	// Three layers of wrapping; classification must follow the root.
	err := fmt.Errorf("dispatch: %w",
		fmt.Errorf("handler: %w",
			fmt.Errorf("read: %w", io.ErrUnexpectedEOF)))

	cls := g.classify(err)
	if cls.Kind != KindNetworkFailure {
		t.Fatalf("kind = %v, want network_failure", cls.Kind)
	}
	if cls.Envelope.Data != msgInvalidJSON {
		t.Errorf("data = %v, want %q", cls.Envelope.Data, msgInvalidJSON)
	}
	if cls.Envelope.OK() {
		t.Error("classified envelope must have status false")
	}
}

func TestClassifyKinds(t *testing.T) {
	g := quietGateway()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"broken pipe", fmt.Errorf("write: %w", syscall.EPIPE), KindClientDisconnected},
		{"connection reset", fmt.Errorf("write: %w", syscall.ECONNRESET), KindClientDisconnected},
		{"eof", io.EOF, KindNetworkFailure},
		{"net timeout", fmt.Errorf("call: %w", fakeTimeoutErr{}), KindNetworkFailure},
		{"auth capability", fmt.Errorf("processor: %w", fakeAuthErr{}), KindAuthFailure},
		{"fs permission", fmt.Errorf("open: %w", fs.ErrPermission), KindAuthFailure},
		{"op error", fmt.Errorf("x: %w", &net.OpError{Op: "read", Net: "tcp", Err: fakeTimeoutErr{}}), KindNetworkFailure},
		{"plain error", errors.New("boom"), KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := g.classify(tt.err)
			if cls.Kind != tt.want {
				t.Errorf("kind = %v, want %v", cls.Kind, tt.want)
			}
			if tt.want == KindClientDisconnected {
				if cls.Envelope.Status != nil || cls.Envelope.Data != nil {
					t.Error("disconnected classification must not carry an envelope")
				}
			}
		})
	}
}

func TestClassifyAuthMessage(t *testing.T) {
	g := quietGateway()
	cls := g.classify(fakeAuthErr{})
	if cls.Envelope.Data != msgSessionExpired {
		t.Errorf("data = %v, want %q", cls.Envelope.Data, msgSessionExpired)
	}
}

func TestClassifyUnexpectedMessage(t *testing.T) {
	g := quietGateway()
	cls := g.classify(fmt.Errorf("outer: %w", errors.New("kaput")))

	data, ok := cls.Envelope.Data.(string)
	if !ok {
		t.Fatalf("data is %T, want string", cls.Envelope.Data)
	}
	if !strings.HasPrefix(data, "error: Communications issue between your computer and our website (") {
		t.Errorf("unexpected message prefix: %q", data)
	}
	if !strings.Contains(data, "kaput") {
		t.Errorf("message does not name the root cause: %q", data)
	}
}
