package authauthority

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"mellium.im/xmpp/jid"
)

func newTestAuthority(t *testing.T, audience string) (*Authority, *rsa.PrivateKey, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pubJWK, err := jwk.FromRaw(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	_ = pubJWK.Set(jwk.KeyIDKey, "test-kid")
	_ = pubJWK.Set(jwk.AlgorithmKey, "RS256")
	_ = pubJWK.Set(jwk.KeyUsageKey, "sig")

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/jwks.json" {
			buf, _ := json.Marshal(map[string]interface{}{"keys": []interface{}{pubJWK}})
			w.Write(buf)
		}
	}))
	t.Cleanup(server.Close)

	u, _ := url.Parse(server.URL)
	domain := u.Host

	a, err := New(context.Background(), domain, audience, jwk.WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, privateKey, domain
}

func signToken(t *testing.T, key *rsa.PrivateKey, domain, audience, subject, email string, expiry time.Duration) string {
	t.Helper()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://" + domain + "/",
			Audience:  jwt.ClaimStrings{audience},
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-kid"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func TestAuthenticateValidTokenBindsSessionAndFiresHandler(t *testing.T) {
	a, key, domain := newTestAuthority(t, "test-audience")
	occupant := mustJID(t, "room@conf.example/alice")

	var gotJID jid.JID
	var gotIdentity, gotSession string
	a.OnJidAuthenticated(func(j jid.JID, identity, sessionID string) {
		gotJID, gotIdentity, gotSession = j, identity, sessionID
	})

	tok := signToken(t, key, domain, "test-audience", "user-1", "alice@example.com", time.Hour)
	claims, err := a.Authenticate(occupant, tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("claims.Subject = %q, want user-1", claims.Subject)
	}

	if gotJID.String() != occupant.String() {
		t.Fatalf("handler JID = %q, want %q", gotJID, occupant)
	}
	if gotIdentity != "alice@example.com" {
		t.Fatalf("handler identity = %q, want alice@example.com", gotIdentity)
	}
	if gotSession != "user-1" {
		t.Fatalf("handler session = %q, want user-1", gotSession)
	}

	sess, ok := a.SessionForJID(occupant)
	if !ok || sess != "user-1" {
		t.Fatalf("SessionForJID = (%q, %v), want (user-1, true)", sess, ok)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	a, key, domain := newTestAuthority(t, "test-audience")
	occupant := mustJID(t, "room@conf.example/bob")

	tok := signToken(t, key, domain, "test-audience", "user-2", "", -time.Hour)
	if _, err := a.Authenticate(occupant, tok); err == nil {
		t.Fatal("expected an error authenticating an expired token")
	}
	if _, ok := a.SessionForJID(occupant); ok {
		t.Fatal("expected no session bound for a rejected token")
	}
}

func TestAuthenticateRejectsWrongAudience(t *testing.T) {
	a, key, domain := newTestAuthority(t, "test-audience")
	occupant := mustJID(t, "room@conf.example/carol")

	tok := signToken(t, key, domain, "some-other-audience", "user-3", "", time.Hour)
	if _, err := a.Authenticate(occupant, tok); err == nil {
		t.Fatal("expected an error authenticating a token issued for a different audience")
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	a, _, domain := newTestAuthority(t, "test-audience")
	occupant := mustJID(t, "room@conf.example/dave")

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tok := signToken(t, otherKey, domain, "test-audience", "user-4", "", time.Hour)
	if _, err := a.Authenticate(occupant, tok); err == nil {
		t.Fatal("expected an error authenticating a token signed by an unknown key")
	}
}

func TestForgetDropsSessionBinding(t *testing.T) {
	a, key, domain := newTestAuthority(t, "test-audience")
	occupant := mustJID(t, "room@conf.example/erin")

	tok := signToken(t, key, domain, "test-audience", "user-5", "", time.Hour)
	if _, err := a.Authenticate(occupant, tok); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	a.Forget(occupant)

	if _, ok := a.SessionForJID(occupant); ok {
		t.Fatal("expected SessionForJID to report false after Forget")
	}
}

func TestUnregisterStopsHandlerDelivery(t *testing.T) {
	a, key, domain := newTestAuthority(t, "test-audience")
	occupant := mustJID(t, "room@conf.example/frank")

	called := false
	unregister := a.OnJidAuthenticated(func(jid.JID, string, string) { called = true })
	unregister()

	tok := signToken(t, key, domain, "test-audience", "user-6", "", time.Hour)
	if _, err := a.Authenticate(occupant, tok); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if called {
		t.Fatal("expected unregistered handler not to fire")
	}
}

func TestSessionForJIDUnknownReturnsFalse(t *testing.T) {
	a, _, _ := newTestAuthority(t, "test-audience")
	if _, ok := a.SessionForJID(mustJID(t, "room@conf.example/unknown")); ok {
		t.Fatal("expected false for a JID that never authenticated")
	}
}
