package storage

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasherWithCost(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
	}{
		{name: "simple password", password: "password123"},
		{name: "complex password", password: "P@ssw0rd!#$%^&*()"},
		{name: "unicode password", password: "密码123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.Hash(tt.password)
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if hash == tt.password {
				t.Error("Hash() returned the original password")
			}
			if !hasher.Verify(tt.password, hash) {
				t.Error("Verify() returned false for correct password")
			}
			if hasher.Verify(tt.password+"x", hash) {
				t.Error("Verify() returned true for wrong password")
			}
		})
	}
}

func TestNewPasswordHasherWithCost_OutOfRange(t *testing.T) {
	for _, cost := range []int{0, bcrypt.MaxCost + 1} {
		if got := NewPasswordHasherWithCost(cost).cost; got != bcrypt.DefaultCost {
			t.Errorf("cost %d: expected fallback %d, got %d", cost, bcrypt.DefaultCost, got)
		}
	}
	if got := NewPasswordHasher().cost; got != DefaultBcryptCost {
		t.Errorf("expected default cost %d, got %d", DefaultBcryptCost, got)
	}
}
