package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisSessionStore(redis.Addr(), "", time.Minute)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok || userID != "user-1" {
		t.Fatalf("unexpected result: ok=%v userID=%q", ok, userID)
	}

	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err != nil || ok {
		t.Fatalf("expected deleted session to miss, ok=%v err=%v", ok, err)
	}
}

func TestRedisSessionStoreExpires(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisSessionStore(redis.Addr(), "", time.Minute)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	redis.FastForward(2 * time.Minute)

	if _, ok, err := s.GetUserIDByToken(token); err != nil || ok {
		t.Fatalf("expected expired session to miss, ok=%v err=%v", ok, err)
	}
}
