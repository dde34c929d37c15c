package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	ac := AuthContext{ActorID: "p1", FamilyID: "f1", Role: RoleParent, ActingFor: "c1"}

	tok, err := iss.Issue(ac)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := iss.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != ac {
		t.Errorf("got %+v, want %+v", got, ac)
	}
}

func TestParseWrongSecret(t *testing.T) {
	tok, _ := NewIssuer("secret", time.Hour).Issue(AuthContext{ActorID: "p1", FamilyID: "f1", Role: RoleParent})
	_, err := NewIssuer("other", time.Hour).Parse(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestParseExpired(t *testing.T) {
	iss := NewIssuer("secret", time.Minute)
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return issuedAt }
	tok, err := iss.Issue(AuthContext{ActorID: "c1", FamilyID: "f1", Role: RoleChild})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	iss.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := iss.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	_, err := NewIssuer("secret", time.Hour).Issue(AuthContext{ActorID: "x", FamilyID: "f", Role: "admin"})
	if err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := NewIssuer("secret", time.Hour).Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
