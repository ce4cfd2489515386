package dispatch

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mnehpets/jsongate/envelope"
)

// commitWriter tracks whether any part of the response has started
// transmission. It is the gateway's view of the transport's isCommitted
// signal: once a header or byte is out, the response is immutable and a
// second write must never be attempted.
type commitWriter struct {
	http.ResponseWriter
	committed bool
}

func (cw *commitWriter) WriteHeader(code int) {
	cw.committed = true
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *commitWriter) Write(b []byte) (int, error) {
	cw.committed = true
	return cw.ResponseWriter.Write(b)
}

// Committed reports whether the response has begun transmission.
func (cw *commitWriter) Committed() bool {
	return cw.committed
}

func committed(w http.ResponseWriter) bool {
	c, ok := w.(interface{ Committed() bool })
	return ok && c.Committed()
}

// respond serializes the envelope, decides compression, and writes the
// response. Already-committed responses are left alone: a handler or
// processor that wrote directly owns the bytes on the wire.
func (g *Gateway) respond(w http.ResponseWriter, r *http.Request, env envelope.Envelope) {
	if committed(w) {
		return
	}

	st := stateFrom(r.Context())
	if st != nil && st.failed {
		// The handler forced the call to fail: its stored failure message
		// replaces the envelope data and the status is pinned to false.
		env = envelope.Failure(st.message)
	}

	body, err := json.Marshal(env)
	if err != nil {
		g.classify(fmt.Errorf("encode envelope: %w", err))
		return
	}
	if st != nil {
		st.ok = env.OK()
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "private, no-cache, no-store")

	out, compressed := compressBody(body, r, g.gzipMin())
	if compressed {
		h.Set("Content-Encoding", "gzip")
	}

	start := time.Now()
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		// Once writing has started no second response is possible;
		// classification here is for the log only.
		g.classify(fmt.Errorf("write response: %w", err))
	}
	elapsed := time.Since(start)

	slow := elapsed > g.slowWrite()
	if slow {
		payload := ""
		if st != nil {
			payload = st.payload
		}
		g.logger().Warn("slow response write",
			slog.Int64("elapsed_ms", elapsed.Milliseconds()),
			slog.String("payload", truncate(payload, payloadLogLimit)))
	}
	if g.Observer != nil {
		g.Observer.ObserveWrite(elapsed, slow)
	}
}

// compressBody applies the compression policy: gzip only when the body
// exceeds min bytes, the request accepts gzip, and compression strictly
// shrinks the body. Returns the bytes to send and whether they are gzipped.
func compressBody(body []byte, r *http.Request, min int) ([]byte, bool) {
	if len(body) <= min || !acceptsGzip(r) {
		return body, false
	}
	gz, ok := gzipBytes(body)
	if !ok || len(gz) >= len(body) {
		return body, false
	}
	return gz, true
}

// acceptsGzip reports whether the request advertises gzip in Accept-Encoding.
func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			continue
		}
		if strings.TrimSpace(params) == "q=0" {
			return false
		}
		return true
	}
	return false
}

func gzipBytes(b []byte) ([]byte, bool) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		zw.Close()
		return nil, false
	}
	if err := zw.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
