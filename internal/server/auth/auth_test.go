package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestRoleAllows(t *testing.T) {
	tests := []struct {
		role, required Role
		want           bool
	}{
		{RoleViewer, RoleEditor, false},
		{RoleEditor, RoleEditor, true},
		{RoleAdmin, RoleEditor, true},
		{RoleAdmin, RoleAdmin, true},
		{"owner", RoleViewer, false},
		{"", RoleViewer, false},
	}
	for _, tt := range tests {
		if got := tt.role.Allows(tt.required); got != tt.want {
			t.Errorf("%q.Allows(%q) = %v, want %v", tt.role, tt.required, got, tt.want)
		}
	}
}

func TestSignVerify(t *testing.T) {
	tok, err := Sign(secret, "alice", "alice@example.com", RoleEditor, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := Verify("Bearer "+tok, secret)
	if err != nil {
		t.Fatal(err)
	}
	if c.Subject != "alice" || c.Role != RoleEditor || c.Email != "alice@example.com" {
		t.Errorf("claims = %+v", c)
	}
	if _, err := Sign(secret, "bob", "", "root", time.Hour); err == nil {
		t.Error("unknown role must be rejected")
	}
}

func TestVerifyRejects(t *testing.T) {
	expired, _ := Sign(secret, "alice", "", RoleAdmin, -time.Minute)
	other, _ := Sign([]byte("another-secret-another-secret-xx"), "alice", "", RoleAdmin, time.Hour)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "a"}}).SignedString(secret)
	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "a", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(secret)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
		Subject: "a", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(secret)
	tests := map[string]string{
		"empty":        "",
		"no bearer":    "Token abc",
		"garbage":      "Bearer abc.def.ghi",
		"expired":      "Bearer " + expired,
		"other secret": "Bearer " + other,
		"no expiry":    "Bearer " + noExp,
		"no role":      "Bearer " + noRole,
		"hs512":        "Bearer " + hs512,
	}
	for name, hdr := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Verify(hdr, secret); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Verify("Bearer x", nil); err == nil {
		t.Error("no secret must reject everything")
	}
}

func TestCheckSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name                string
		configured, present string
		want                bool
	}{
		{"plain match", "s3cret", "s3cret", true},
		{"plain mismatch", "s3cret", "nope", false},
		{"bcrypt match", string(hash), "s3cret", true},
		{"bcrypt mismatch", string(hash), "nope", false},
		{"bcrypt literal", string(hash), string(hash), false},
		{"unconfigured", "", "", false},
		{"missing", "s3cret", "", false},
	}
	for _, tt := range tests {
		if got := CheckSecret(tt.configured, tt.present); got != tt.want {
			t.Errorf("%s: CheckSecret() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
