package iqthrottle

import (
	"context"
	"testing"

	"mellium.im/xmpp/jid"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func TestNewRejectsInvalidRate(t *testing.T) {
	if _, err := New("session-initiate", "not-a-rate", nil); err == nil {
		t.Fatal("expected an error constructing a Limiter with a malformed rate")
	}
}

func TestAllowWithinRate(t *testing.T) {
	l, err := New("session-initiate", "5-M", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j := mustJID(t, "room@conf.example/alice")
	for i := 0; i < 5; i++ {
		if !l.Allow(context.Background(), j) {
			t.Fatalf("request %d should be allowed within a 5-per-minute rate", i+1)
		}
	}
}

func TestAllowThrottlesOverRate(t *testing.T) {
	l, err := New("source-add", "2-M", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j := mustJID(t, "room@conf.example/bob")
	l.Allow(context.Background(), j)
	l.Allow(context.Background(), j)
	if l.Allow(context.Background(), j) {
		t.Fatal("expected the third request within the window to be throttled")
	}
}

func TestAllowIsPerSenderJID(t *testing.T) {
	l, err := New("source-add", "1-M", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")

	if !l.Allow(context.Background(), alice) {
		t.Fatal("alice's first request should be allowed")
	}
	if !l.Allow(context.Background(), bob) {
		t.Fatal("bob's first request should be allowed independently of alice's usage")
	}
	if l.Allow(context.Background(), alice) {
		t.Fatal("alice's second request should be throttled under a 1-per-minute rate")
	}
}
