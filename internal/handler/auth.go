package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/auth"
)

// tokenLeeway tolerates clock skew between the identity provider and us.
const tokenLeeway = 30 * time.Second

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// Secret is the HMAC key tokens are signed with.
	Secret string
	// Issuer and Audience are checked when non-empty.
	Issuer   string
	Audience string
}

// Authenticator turns HS256/384/512 bearer tokens into an auth.Actor. The
// subject claim is the user id and the "role" claim the caller's role.
type Authenticator struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{secret: []byte(cfg.Secret), opts: opts}
}

// Actor verifies raw and extracts the caller.
func (a *Authenticator) Actor(raw string) (auth.Actor, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, a.opts...)
	if err != nil {
		return auth.Actor{}, errors.Wrap(err, "parse token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return auth.Actor{}, errors.New("token has no subject")
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = string(auth.RoleCustomer)
	}
	return auth.Actor{ID: sub, Role: auth.Role(strings.ToLower(role))}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, r, apperr.New(apperr.ErrUnauthorized, "Missing bearer token"))
			return
		}
		actor, err := a.Actor(raw)
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected bearer token", zap.Error(err))
			writeError(w, r, apperr.New(apperr.ErrUnauthorized, "Invalid or expired token"))
			return
		}
		ctx := auth.WithActor(r.Context(), actor)
		ctx = zctx.With(ctx, zap.String("user_id", actor.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// actorFrom returns the caller stored by Authenticator.Middleware.
func actorFrom(r *http.Request) (auth.Actor, error) {
	a, ok := auth.ActorFrom(r.Context())
	if !ok || a.ID == "" {
		return auth.Actor{}, apperr.New(apperr.ErrUnauthorized, "Unauthorized")
	}
	return a, nil
}

// webhookTokenValid checks the shared webhook secret. The token may come in
// X-Sepay-Signature, X-Api-Key or an "Authorization: Apikey <token>" header.
// An empty secret disables the check.
func webhookTokenValid(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	token := r.Header.Get("X-Sepay-Signature")
	if token == "" {
		token = r.Header.Get("X-Api-Key")
	}
	if token == "" {
		if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Apikey ") {
			token = strings.TrimSpace(h[7:])
		}
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
