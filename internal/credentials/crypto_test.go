package credentials

import (
	"encoding/base64"
	"strings"
	"testing"
	"unicode/utf8"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	sealed, err := c.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(sealed, "hunter2") {
		t.Error("ciphertext contains plaintext")
	}

	got, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("round trip = %q, want hunter2", got)
	}
}

// Sealed secrets land in a TEXT column, so the sealed form must always be
// valid UTF-8 regardless of what bytes GCM produces.
func TestCipher_SealedFormIsTextSafe(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	for _, secret := range []string{"hunter2", "", "päss\x00wörd", strings.Repeat("x", 4096)} {
		sealed, err := c.Encrypt(secret)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", secret, err)
		}
		if !utf8.ValidString(sealed) {
			t.Errorf("sealed form of %q is not valid UTF-8", secret)
		}
		if _, err := base64.StdEncoding.DecodeString(sealed); err != nil {
			t.Errorf("sealed form of %q is not base64: %v", secret, err)
		}
	}
}

func TestCipher_NoncePerValue(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	a, _ := c.Encrypt("same secret")
	b, _ := c.Encrypt("same secret")
	if a == b {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestCipher_TamperDetected(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	sealed, _ := c.Encrypt("hunter2")
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("decode sealed: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	if _, err := c.Decrypt(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Error("tampered ciphertext decrypted without error")
	}
}

func TestCipher_BadSealedValuesRejected(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	tests := []struct {
		name   string
		sealed string
	}{
		{"not base64", "%%not-base64%%"},
		{"truncated", base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.sealed); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewCipher_BadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not hex", "zzzz"},
		{"too short", "abcd12"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCipher(tt.key); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewCipher_KeyLengthErrorNamesSize(t *testing.T) {
	_, err := NewCipher("abcd12")
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Errorf("err = %v, want mention of required key size", err)
	}
}
