package auth

import (
	"strings"
	"testing"
)

func TestGenerateServiceKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env        string
		wantPrefix string
	}{
		{EnvLive, "lsk_live_"},
		{EnvTest, "lsk_test_"},
		{"", "lsk_live_"},
		{"staging", "lsk_live_"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()

			key, err := GenerateServiceKey(tt.env)
			if err != nil {
				t.Fatalf("GenerateServiceKey failed: %v", err)
			}
			if !strings.HasPrefix(key.Plaintext, tt.wantPrefix) {
				t.Errorf("Key should start with %s, got: %s", tt.wantPrefix, key.Plaintext)
			}
			if !ValidateKeyFormat(key.Plaintext) {
				t.Errorf("Generated key %q fails format validation", key.Plaintext)
			}
			if match, err := VerifyKey(key.Plaintext, key.Hash); err != nil || !match {
				t.Errorf("Generated hash does not verify: %v", err)
			}
		})
	}
}

func TestValidateKeyFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want bool
	}{
		{"lsk_live_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b", true},
		{"lsk_test_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b", true},
		{"lsk_prod_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b", false},
		{"lsk_live_4F8D2E1B9C7A5F3D2E1B9C7A5F3D2E1B", false},
		{"lsk_live_4f8d", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidateKeyFormat(tt.key); got != tt.want {
			t.Errorf("ValidateKeyFormat(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
