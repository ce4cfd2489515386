package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type mathService struct{}

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (s *mathService) Add(ctx context.Context, p addParams) (int, error) {
	return p.A + p.B, nil
}

func (s *mathService) Fails(ctx context.Context, p struct{}) (int, error) {
	return 0, errors.New("boom")
}

// wrong shape: no params struct
func (s *mathService) Bare(ctx context.Context) (int, error) { return 0, nil }

// wrong shape: no error return
func (s *mathService) NoError(ctx context.Context, p struct{}) int { return 0 }

func (s *mathService) unexported(ctx context.Context, p struct{}) (int, error) { return 0, nil }

func register(t *testing.T) *ServiceSet {
	t.Helper()
	s := NewServiceSet()
	s.Register("math", &mathService{})
	return s
}

func rawArgs(args ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		out[i] = json.RawMessage(a)
	}
	return out
}

func TestServiceSetInvoke(t *testing.T) {
	s := register(t)
	h, ok := s.TryResolve("math")
	if !ok {
		t.Fatal("math did not resolve")
	}

	got, err := h.Invoke(context.Background(), "Add", rawArgs("2", "3"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got != 5 {
		t.Errorf("got %v, want 5", got)
	}
}

func TestServiceSetInvokeErrors(t *testing.T) {
	s := register(t)
	h, _ := s.TryResolve("math")

	tests := []struct {
		name   string
		method string
		args   []json.RawMessage
	}{
		{"unknown method", "Multiply", rawArgs("2", "3")},
		{"too few args", "Add", rawArgs("2")},
		{"too many args", "Add", rawArgs("1", "2", "3")},
		{"argument does not decode", "Add", rawArgs("2", `"three"`)},
		{"skipped signature not callable", "Bare", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Invoke(context.Background(), tt.method, tt.args)
			var ie *InvokeError
			if !errors.As(err, &ie) {
				t.Fatalf("err = %v, want *InvokeError", err)
			}
			if ie.Target.Controller != "math" {
				t.Errorf("target controller = %q, want math", ie.Target.Controller)
			}
		})
	}
}

func TestServiceSetHandlerErrorPassesThrough(t *testing.T) {
	s := register(t)
	h, _ := s.TryResolve("math")

	_, err := h.Invoke(context.Background(), "Fails", nil)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("err = %v, want boom", err)
	}
	var ie *InvokeError
	if errors.As(err, &ie) {
		t.Error("handler error must not be an InvokeError")
	}
}

func TestServiceSetCollisionPanics(t *testing.T) {
	s := register(t)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on controller name collision")
		}
	}()
	s.Register("math", &mathService{})
}

func TestServiceSetMiss(t *testing.T) {
	s := register(t)
	if _, ok := s.TryResolve("physics"); ok {
		t.Error("unregistered controller resolved")
	}
}
