package cryptoutil

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := NewBox("test-master-key")

	tests := []struct {
		name      string
		plaintext string
		salt      string
	}{
		{"short", "hello", "salt"},
		{"empty", "", "salt"},
		{"long", "a-very-long-refresh-token-value-1234567890", "account-salt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := box.Encrypt(tt.plaintext, tt.salt)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}

			dec, err := box.Decrypt(enc, tt.salt)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if dec != tt.plaintext {
				t.Fatalf("round trip mismatch: got %q want %q", dec, tt.plaintext)
			}
		})
	}
}

func TestDecryptWrongSaltFails(t *testing.T) {
	box := NewBox("test-master-key")

	enc, err := box.Encrypt("secret", "salt-a")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := box.Decrypt(enc, "salt-b"); err == nil {
		t.Fatal("expected decrypt under wrong salt to fail")
	}
}

func TestHashAPIKeyDeterministic(t *testing.T) {
	box := NewBox("k")
	a := box.HashAPIKey("abc")
	b := box.HashAPIKey("abc")
	if a != b {
		t.Fatal("expected deterministic hash")
	}
	if a == box.HashAPIKey("xyz") {
		t.Fatal("expected different keys to hash differently")
	}
}
