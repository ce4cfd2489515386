// Package middleware provides processors for the dispatch pipeline.
//
// The session processor is the gateway's source of authorization failures:
// a missing, undecodable, or expired session surfaces as ErrSessionExpired,
// which the dispatcher classifies as an auth failure and answers with the
// session-expired envelope.
package middleware

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mnehpets/jsongate/dispatch"
)

var (
	ErrCookieFormat = errors.New("invalid session cookie format")
	ErrCookieConfig = errors.New("invalid session cookie configuration")
)

// ErrSessionExpired is returned when a request carries no usable session.
// It advertises the AuthFailure capability the dispatch classifier looks for.
var ErrSessionExpired error = &sessionExpiredError{}

type sessionExpiredError struct{}

func (*sessionExpiredError) Error() string     { return "session expired" }
func (*sessionExpiredError) AuthFailure() bool { return true }

// DefaultCookieName is the default name for the session cookie.
const DefaultCookieName = "JGS"

// sessionIDBytes is the number of random bytes in a session ID.
const sessionIDBytes = 16

// maxCookieLen bounds the amount of attacker-controlled data we will
// decode/allocate for a cookie value.
const maxCookieLen = 8192

// Session is the sealed per-caller state carried in the cookie.
type Session struct {
	ID       string    `cbor:"1,keyasint"`
	Username string    `cbor:"2,keyasint"`
	Expires  time.Time `cbor:"3,keyasint"`
}

// CookieCodec seals and opens Session values in an AEAD-encrypted cookie.
// Values are CBOR-encoded, sealed with chacha20poly1305, and carry the key ID
// so keys can be rotated without invalidating live sessions.
type CookieCodec struct {
	Name  string
	KeyID string
	Keys  map[string][]byte

	// NewAEAD constructs the AEAD used to seal/open cookies.
	// Defaults to chacha20poly1305.NewX.
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

// NewCookieCodec creates a codec and validates every key against the AEAD.
func NewCookieCodec(name, keyID string, keys map[string][]byte) (*CookieCodec, error) {
	if name == "" {
		name = DefaultCookieName
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: keys must not be nil", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: keyID not found in keys", ErrCookieConfig)
	}
	for id, k := range keys {
		if _, err := chacha20poly1305.NewX(k); err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrCookieConfig, id, err)
		}
	}
	return &CookieCodec{Name: name, KeyID: keyID, Keys: keys, NewAEAD: chacha20poly1305.NewX}, nil
}

func (c *CookieCodec) aead(keyID string) (cipher.AEAD, error) {
	key, ok := c.Keys[keyID]
	if !ok {
		return nil, ErrCookieFormat
	}
	newAEAD := c.NewAEAD
	if newAEAD == nil {
		newAEAD = chacha20poly1305.NewX
	}
	return newAEAD(key)
}

// Seal encrypts a session into a cookie value. The cookie name is bound in as
// additional authenticated data.
func (c *CookieCodec) Seal(s *Session) (string, error) {
	plain, err := cbor.Marshal(s)
	if err != nil {
		return "", err
	}
	aead, err := c.aead(c.KeyID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, []byte(c.Name))
	return c.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a cookie value back into a session.
func (c *CookieCodec) Open(value string) (*Session, error) {
	if len(value) == 0 || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, encB64, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return nil, ErrCookieFormat
	}
	aead, err := c.aead(keyID)
	if err != nil {
		return nil, err
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return nil, ErrCookieFormat
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(c.Name))
	if err != nil {
		return nil, ErrCookieFormat
	}
	var s Session
	if err := cbor.Unmarshal(plain, &s); err != nil {
		return nil, ErrCookieFormat
	}
	return &s, nil
}

// Issue creates a fresh session for username, sets its cookie on w, and
// returns it.
func (c *CookieCodec) Issue(w http.ResponseWriter, username string, ttl time.Duration) (*Session, error) {
	id := make([]byte, sessionIDBytes)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	s := &Session{
		ID:       base64.RawURLEncoding.EncodeToString(id),
		Username: username,
		Expires:  time.Now().Add(ttl),
	}
	value, err := c.Seal(s)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		Expires:  s.Expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s, nil
}

// Clear returns a cookie that removes the session in the client.
func (c *CookieCodec) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

type sessionKey struct{}

// WithSession stores a session in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by RequireSession, if any.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

// RequireSession returns a processor that admits only requests carrying a
// live session cookie. Anything else stops the chain with ErrSessionExpired,
// which the gateway answers as an authorization failure.
func RequireSession(codec *CookieCodec) dispatch.Processor {
	return dispatch.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		cookie, err := r.Cookie(codec.Name)
		if err != nil {
			return fmt.Errorf("no session cookie: %w", ErrSessionExpired)
		}
		s, err := codec.Open(cookie.Value)
		if err != nil {
			return fmt.Errorf("unusable session cookie: %w", ErrSessionExpired)
		}
		if !s.Expires.After(time.Now()) {
			return fmt.Errorf("session past expiry: %w", ErrSessionExpired)
		}
		return next(w, r.WithContext(WithSession(r.Context(), s)))
	})
}
