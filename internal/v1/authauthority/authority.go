// Package authauthority is a reference AuthenticationAuthority: it
// validates a bearer JWT against a JWKS-backed Validator (the teacher's
// auth.Validator, adapted verbatim) and binds the resulting identity to
// the JID that presented it, firing OnJidAuthenticated handlers so
// internal/v1/role can promote an authenticated occupant to owner.
package authauthority

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"mellium.im/xmpp/jid"
)

// Claims mirrors the teacher's CustomClaims: a scope/name/email payload
// layered over the standard registered claims.
type Claims struct {
	Scope string `json:"scope"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Authority validates tokens via JWKS and tracks the session a JID
// authenticated under, implementing iface.AuthenticationAuthority.
type Authority struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string

	mu       sync.RWMutex
	sessions map[string]string // jid string -> session id
	handlers []func(j jid.JID, identity string, sessionID string)
}

// New builds an Authority that fetches its signing keys from
// https://domain/.well-known/jwks.json, refreshed hourly, and accepts
// only tokens issued by that domain for the given audience.
func New(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*Authority, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}
	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	opts := append([]jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &Authority{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: audience,
		sessions: make(map[string]string),
	}, nil
}

// Authenticate validates tokenString and, if valid, binds j to the
// resulting session, firing every registered OnJidAuthenticated handler.
// Called from the MUC presence/IQ handling path when an occupant
// presents a bearer token (spec §6).
func (a *Authority) Authenticate(j jid.JID, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, a.keyFunc,
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("failed to cast claims")
	}

	sessionID := claims.Subject
	identity := claims.Email
	if identity == "" {
		identity = claims.Name
	}

	a.mu.Lock()
	a.sessions[j.String()] = sessionID
	handlers := append([]func(jid.JID, string, string)(nil), a.handlers...)
	a.mu.Unlock()

	for _, h := range handlers {
		h(j, identity, sessionID)
	}
	return claims, nil
}

// SessionForJID implements iface.AuthenticationAuthority.
func (a *Authority) SessionForJID(j jid.JID) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sessionID, ok := a.sessions[j.String()]
	return sessionID, ok
}

// OnJidAuthenticated implements iface.AuthenticationAuthority.
func (a *Authority) OnJidAuthenticated(handler func(j jid.JID, identity string, sessionID string)) (unregister func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
	idx := len(a.handlers) - 1
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.handlers[idx] = func(jid.JID, string, string) {}
	}
}

// Forget drops a JID's session binding, called when an occupant leaves.
func (a *Authority) Forget(j jid.JID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, j.String())
}
