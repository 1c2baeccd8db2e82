package api

import (
	"testing"
)

func TestLoginAndValidate(t *testing.T) {
	auth, err := NewAuth("test-secret", "admin", "admin123")
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	token, err := auth.Login("admin", "admin123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	sub, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if sub != "admin" {
		t.Fatalf("subject = %q", sub)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth, err := NewAuth("test-secret", "admin", "admin123")
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	if _, err := auth.Login("admin", "wrong"); err == nil {
		t.Fatal("login accepted a bad password")
	}
	if _, err := auth.Login("nobody", "admin123"); err == nil {
		t.Fatal("login accepted an unknown user")
	}
}

func TestValidateRejectsForeignToken(t *testing.T) {
	a, _ := NewAuth("secret-a", "admin", "pw")
	b, _ := NewAuth("secret-b", "admin", "pw")

	token, err := a.Login("admin", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := b.ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
	if _, err := a.ValidateToken("not-a-token"); err == nil {
		t.Fatal("garbage token was accepted")
	}
}
