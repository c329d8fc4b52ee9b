package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrNoToken is returned when login succeeds but carries no token.
var ErrNoToken = errors.New("remote: login returned no token")

// Operator is the user the terminal logged in as.
type Operator struct {
	ID    int64  `json:"id"`
	Name  string `json:"nome"`
	Email string `json:"email"`
	Role  string `json:"perfil"`
}

// TokenSource logs in with fixed credentials and keeps the bearer token in
// memory until its exp claim comes within Skew of the clock.
type TokenSource struct {
	client   *Client
	email    string
	password string
	skew     time.Duration
	now      func() time.Time

	mu       sync.Mutex
	token    string
	parsed   jwt.Token
	operator Operator
}

// NewTokenSource binds credentials to the client and enables bearer auth on it.
func NewTokenSource(client *Client, email, password string, skew time.Duration) *TokenSource {
	ts := &TokenSource{
		client:   client,
		email:    strings.TrimSpace(email),
		password: password,
		skew:     skew,
		now:      time.Now,
	}
	client.UseTokens(ts)
	return ts
}

// Token returns a usable bearer token, logging in when none is cached or the
// cached one is about to expire.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && ts.fresh() {
		return ts.token, nil
	}
	if err := ts.loginLocked(ctx); err != nil {
		return "", err
	}
	return ts.token, nil
}

// Operator returns the user from the last successful login.
func (ts *TokenSource) Operator() Operator {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.operator
}

// Invalidate drops the cached token.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.parsed = nil
}

// fresh reports whether the token stays valid for at least skew more. Opaque
// tokens are kept until the server rejects them.
func (ts *TokenSource) fresh() bool {
	if ts.parsed == nil {
		return true
	}
	ahead := ts.now().Add(ts.skew)
	return jwt.Validate(ts.parsed, jwt.WithClock(jwt.ClockFunc(func() time.Time { return ahead }))) == nil
}

func (ts *TokenSource) loginLocked(ctx context.Context) error {
	if ts.email == "" {
		return errors.New("remote: no credentials configured")
	}
	in := struct {
		Email string `json:"email"`
		Senha string `json:"senha"`
	}{Email: ts.email, Senha: ts.password}
	var out struct {
		Token   string   `json:"token"`
		Usuario Operator `json:"usuario"`
	}
	found, err := ts.client.callOnce(ctx, http.MethodPost, "auth/login", in, &out, nil, false)
	if err != nil {
		return fmt.Errorf("remote: login: %w", err)
	}
	if !found || out.Token == "" {
		return ErrNoToken
	}

	parsed, err := jwt.ParseString(out.Token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		ts.client.logger.Warn().Err(err).Msg("remote_token_opaque")
		parsed = nil
	}
	ts.token = out.Token
	ts.parsed = parsed
	ts.operator = out.Usuario
	ts.client.logger.Info().Str("operator", out.Usuario.Email).Msg("remote_login")
	return nil
}
