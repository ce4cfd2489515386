package dispatch

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mnehpets/jsongate/envelope"
)

func TestRespondIsNoOpOnCommittedResponse(t *testing.T) {
	g := New(nil)
	g.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	cw := &commitWriter{ResponseWriter: rec}
	ctx, _ := newState(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/a/b", nil).WithContext(ctx)

	g.respond(cw, r, envelope.Success("first"))
	want := rec.Body.String()
	if want == "" {
		t.Fatal("first respond wrote nothing")
	}

	g.respond(cw, r, envelope.Success("second"))
	if got := rec.Body.String(); got != want {
		t.Errorf("second respond added bytes: %q", got[len(want):])
	}
}

func TestCommitWriterTracksFirstByte(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &commitWriter{ResponseWriter: rec}

	if cw.Committed() {
		t.Fatal("fresh writer reports committed")
	}
	cw.Write([]byte("x"))
	if !cw.Committed() {
		t.Fatal("writer does not report committed after a write")
	}
}

func TestCompressBodyPolicy(t *testing.T) {
	compressible := []byte(strings.Repeat(`{"data":"abcdefgh"}`, 40)) // ~760 bytes

	// gzip output of random bytes does not shrink when gzipped again.
	incompressible := make([]byte, 600)
	if _, err := rand.Read(incompressible); err != nil {
		t.Fatal(err)
	}
	gz, ok := gzipBytes(incompressible)
	if !ok {
		t.Fatal("gzipBytes failed")
	}

	withGzip := httptest.NewRequest(http.MethodGet, "/", nil)
	withGzip.Header.Set("Accept-Encoding", "gzip")
	plain := httptest.NewRequest(http.MethodGet, "/", nil)

	tests := []struct {
		name         string
		body         []byte
		r            *http.Request
		wantCompress bool
	}{
		{"large compressible accepted", compressible, withGzip, true},
		{"large compressible not accepted", compressible, plain, false},
		{"small body accepted", []byte(`{"data":null,"status":true}`), withGzip, false},
		{"compression does not shrink", gz, withGzip, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, compressed := compressBody(tt.body, tt.r, DefaultGzipMin)
			if compressed != tt.wantCompress {
				t.Fatalf("compressed = %v, want %v", compressed, tt.wantCompress)
			}
			if compressed && len(out) >= len(tt.body) {
				t.Errorf("compressed output (%d bytes) not smaller than body (%d bytes)", len(out), len(tt.body))
			}
			if !compressed && string(out) != string(tt.body) {
				t.Error("uncompressed output must be the original bytes")
			}
		})
	}
}

func TestAcceptsGzip(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"gzip", true},
		{"GZIP", true},
		{"deflate, gzip", true},
		{"deflate, gzip;q=0.5", true},
		{"gzip;q=0", false},
		{"deflate", false},
		{"identity", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run("header "+tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Accept-Encoding", tt.header)
			}
			if got := acceptsGzip(r); got != tt.want {
				t.Errorf("acceptsGzip(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncate("hello", 3); got != "hel" {
		t.Errorf("got %q", got)
	}
}
