package crypto

import (
	"encoding/base64"
	"errors"
	"testing"
)

func testKey(seed byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey(0), 1)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"account number", "123-4-56789-0"},
		{"iban", "TH12 3456 7890 1234 5678 90"},
		{"unicode holder", "สมชาย ใจดี"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if !IsEncrypted(ciphertext) {
				t.Errorf("ciphertext missing version prefix: %s", ciphertext)
			}
			decrypted, err := enc.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("decrypted = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc, _ := NewEncryptor(testKey(0), 1)
	c1, _ := enc.Encrypt("same-number")
	c2, _ := enc.Encrypt("same-number")
	if c1 == c2 {
		t.Error("expected different ciphertexts for same plaintext")
	}
}

func TestInvalidKey(t *testing.T) {
	if _, err := NewEncryptor([]byte("short"), 1); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDecryptInvalidCiphertext(t *testing.T) {
	enc, _ := NewEncryptor(testKey(0), 1)
	for _, invalid := range []string{
		"",
		"not-encrypted",
		"ENC[v1]:",
		"ENC[v1]:!!!invalid",
	} {
		if _, err := enc.Decrypt(invalid); err == nil {
			t.Errorf("expected error for invalid ciphertext: %s", invalid)
		}
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		ciphertext string
		expected   int
	}{
		{"ENC[v1]:data", 1},
		{"ENC[v2]:data", 2},
		{"ENC[v10]:data", 10},
		{"invalid", 0},
		{"ENC[vX]:data", 0},
	}
	for _, tt := range tests {
		if got := ParseVersion(tt.ciphertext); got != tt.expected {
			t.Errorf("ParseVersion(%q) = %d, want %d", tt.ciphertext, got, tt.expected)
		}
	}
}

func TestKeyManagerRotation(t *testing.T) {
	env := map[string]string{
		"MASTER_ENCRYPTION_KEY": base64.StdEncoding.EncodeToString(testKey(1)),
	}
	lookup := func(k string) string { return env[k] }

	v1, err := LoadKeyManager("MASTER_ENCRYPTION_KEY", lookup)
	if err != nil {
		t.Fatalf("LoadKeyManager: %v", err)
	}
	old, _ := v1.Encrypt("111-222")

	env["MASTER_ENCRYPTION_KEY_V2"] = base64.StdEncoding.EncodeToString(testKey(2))
	v2, err := LoadKeyManager("MASTER_ENCRYPTION_KEY", lookup)
	if err != nil {
		t.Fatalf("LoadKeyManager v2: %v", err)
	}
	if v2.CurrentVersion() != 2 {
		t.Fatalf("CurrentVersion=%d", v2.CurrentVersion())
	}
	if plain, err := v2.Decrypt(old); err != nil || plain != "111-222" {
		t.Fatalf("old ciphertext: %q %v", plain, err)
	}
	rotated, err := v2.ReEncrypt(old)
	if err != nil || ParseVersion(rotated) != 2 {
		t.Fatalf("ReEncrypt=%q err=%v", rotated, err)
	}
}

func TestKeyManagerMissingKey(t *testing.T) {
	_, err := LoadKeyManager("MASTER_ENCRYPTION_KEY", func(string) string { return "" })
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err=%v, expected ErrKeyNotFound", err)
	}
}

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(k)
	if len(raw) != KeySize {
		t.Fatalf("key length %d", len(raw))
	}
}
