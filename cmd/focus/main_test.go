package main

import (
	"context"
	"testing"
)

func TestDefaultRoomFactoryFailsFast(t *testing.T) {
	room, jingle, err := newRoomFactory(context.Background(), "room1@conf.example")
	if err == nil {
		t.Fatal("expected the default room factory to fail until a real transport is wired")
	}
	if room != nil || jingle != nil {
		t.Fatal("expected nil collaborators alongside the error")
	}
	if err.Error() == "" {
		t.Fatal("expected a descriptive error message")
	}
}
