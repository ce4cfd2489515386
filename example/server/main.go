// A fuller gateway deployment: chi routing, prometheus metrics, env-based
// configuration, and a session-protected mount.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnehpets/jsongate/dispatch"
	"github.com/mnehpets/jsongate/metrics"
	"github.com/mnehpets/jsongate/middleware"
	"github.com/mnehpets/jsongate/registry"
)

type config struct {
	Addr       string        `default:":8080"`
	SessionKey string        `split_words:"true"` // hex-encoded 32-byte key
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SlowWrite  time.Duration `split_words:"true" default:"2s"`
}

type TimeService struct{}

func (s *TimeService) Now(ctx context.Context, p struct{}) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

type AccountService struct{}

func (s *AccountService) Whoami(ctx context.Context, p struct{}) (string, error) {
	sess, ok := middleware.SessionFrom(ctx)
	if !ok {
		return "", os.ErrPermission
	}
	return sess.Username, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	var cfg config
	if err := envconfig.Process("jsongate", &cfg); err != nil {
		logger.Error("bad configuration", slog.Any("error", err))
		os.Exit(1)
	}

	key, err := sessionKey(cfg.SessionKey)
	if err != nil {
		logger.Error("bad session key", slog.Any("error", err))
		os.Exit(1)
	}
	codec, err := middleware.NewCookieCodec(middleware.DefaultCookieName, "k1", map[string][]byte{"k1": key})
	if err != nil {
		logger.Error("bad cookie codec", slog.Any("error", err))
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	observer := metrics.New(reg)

	public := registry.NewServiceSet()
	public.Register("time", &TimeService{})

	private := registry.NewServiceSet()
	private.Register("account", &AccountService{})

	publicGW := dispatch.New(registry.Chain{public})
	publicGW.Logger = logger.With(slog.String("component", "gateway"))
	publicGW.Observer = observer
	publicGW.SlowWrite = cfg.SlowWrite

	privateGW := dispatch.New(registry.Chain{private, public}, middleware.RequireSession(codec))
	privateGW.Logger = logger.With(slog.String("component", "gateway_private"))
	privateGW.Observer = observer
	privateGW.SlowWrite = cfg.SlowWrite

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Post("/login/{user}", func(w http.ResponseWriter, req *http.Request) {
		if _, err := codec.Issue(w, chi.URLParam(req, "user"), cfg.SessionTTL); err != nil {
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Mount("/gateway", publicGW)
	r.Mount("/private", privateGW)

	logger.Info("listening", slog.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// sessionKey decodes the configured key, or generates an ephemeral one so the
// example runs out of the box.
func sessionKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		key := make([]byte, 32)
		_, err := rand.Read(key)
		return key, err
	}
	return hex.DecodeString(hexKey)
}
