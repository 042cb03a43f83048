package token

import (
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestMintAndVerify(t *testing.T) {
	m := newTestManager(t)

	pair, err := m.Mint("user-1", "alice", "Alice Smith")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := m.VerifyAccess(pair.Access)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Subject != "user-1" || claims.Username != "alice" || claims.FullName != "Alice Smith" {
		t.Fatalf("claims: %+v", claims)
	}

	if _, err := m.VerifyRefresh(pair.Refresh); err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
}

func TestAccessTokenRejectedAsRefresh(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Mint("user-1", "alice", "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.VerifyRefresh(pair.Access); !errors.Is(err, ErrWrongUse) {
		t.Fatalf("err = %v, want ErrWrongUse", err)
	}
	if _, err := m.VerifyAccess(pair.Refresh); !errors.Is(err, ErrWrongUse) {
		t.Fatalf("err = %v, want ErrWrongUse", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	m, err := NewManager("test-secret", -time.Minute, -time.Minute)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	pair, err := m.Mint("user-1", "alice", "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.VerifyAccess(pair.Access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestForeignSecretRejected(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager("other-secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	pair, err := other.Mint("user-1", "alice", "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.VerifyAccess(pair.Access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := NewManager("", time.Minute, time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
