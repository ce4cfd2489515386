package main

import (
	"context"
	"log"
	"net/http"

	"github.com/mnehpets/jsongate/dispatch"
	"github.com/mnehpets/jsongate/registry"
)

type MathService struct{}

type AddParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (s *MathService) Add(ctx context.Context, p AddParams) (int, error) {
	return p.A + p.B, nil
}

type DivParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func (s *MathService) Div(ctx context.Context, p DivParams) (float64, error) {
	if p.B == 0 {
		dispatch.Fail(ctx, "error: division by zero")
		return 0, nil
	}
	return p.A / p.B, nil
}

func main() {
	services := registry.NewServiceSet()
	services.Register("math", &MathService{})

	gw := dispatch.New(registry.Chain{services})
	http.Handle("/", gw)

	// Try: curl 'localhost:8080/math/Add?json=[2,3]'
	log.Println("Starting server on :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
