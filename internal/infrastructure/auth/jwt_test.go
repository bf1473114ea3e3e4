package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

func newTestUser(t *testing.T) *entity.User {
	t.Helper()
	u, err := entity.NewUser("alice", "alice@example.com", "$2a$10$hash", entity.RoleUser)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	u.SetID(42)
	return u
}

func TestGenerateAndParse(t *testing.T) {
	tm := NewTokenManager(strings.Repeat("s", 32), time.Hour)
	token, err := tm.Generate(newTestUser(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := tm.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d", claims.UserID)
	}
	if claims.Username != "alice" || claims.Role != entity.RoleUser {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Subject != "42" {
		t.Errorf("sub = %q", claims.Subject)
	}
	if claims.IssuedAtTime().IsZero() {
		t.Error("iat missing")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	tm := NewTokenManager(strings.Repeat("s", 32), time.Hour)
	token, err := tm.Generate(newTestUser(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := tm.Parse(tampered); !domainErrors.IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tm1 := NewTokenManager(strings.Repeat("a", 32), time.Hour)
	tm2 := NewTokenManager(strings.Repeat("b", 32), time.Hour)
	token, err := tm1.Generate(newTestUser(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := tm2.Parse(token); !domainErrors.IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager(strings.Repeat("s", 32), -time.Minute)
	token, err := tm.Generate(newTestUser(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := tm.Parse(token); !domainErrors.IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestPasswordChangeInvalidatesOldToken(t *testing.T) {
	tm := NewTokenManager(strings.Repeat("s", 32), time.Hour)
	u := newTestUser(t)
	token, err := tm.Generate(u)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := tm.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	u.ChangePassword("$2a$10$newhash", time.Now().Add(time.Minute))
	if !u.TokenIssuedBeforePasswordChange(claims.IssuedAtTime()) {
		t.Error("token issued before password change should be invalid")
	}
}
