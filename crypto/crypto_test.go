package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestNewAESRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"wrong length", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAES(tt.key); err == nil {
				t.Errorf("NewAES(%q) should fail", tt.key)
			}
		})
	}
}

func TestSealOpenRoundtrip(t *testing.T) {
	c, err := NewAES(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("oauth:very-secret-token")
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(sealed), "very-secret") {
		t.Error("ciphertext leaks plaintext")
	}
	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if string(opened) != string(plaintext) {
		t.Errorf("roundtrip = %q", opened)
	}

	// Each seal uses a fresh nonce.
	again, err := c.Seal(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) == string(sealed) {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	c, err := NewAES(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := c.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := c.Open(sealed); err == nil {
		t.Error("tampered ciphertext should fail authentication")
	}
	if _, err := c.Open(sealed[:4]); err == nil {
		t.Error("truncated ciphertext should fail")
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	a, _ := NewAES(testKey(t))
	b, _ := NewAES(testKey(t))
	sealed, err := a.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Error("wrong key should fail authentication")
	}
}

func TestStringHelpers(t *testing.T) {
	c, _ := NewAES(testKey(t))
	encoded, err := SealString(c, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		t.Errorf("SealString output is not base64: %v", err)
	}
	out, err := OpenString(c, encoded)
	if err != nil || out != "hello" {
		t.Fatalf("OpenString = %q, %v", out, err)
	}
	// Empty strings pass through both directions.
	if s, err := SealString(c, ""); err != nil || s != "" {
		t.Errorf("SealString empty = %q, %v", s, err)
	}
	if s, err := OpenString(c, ""); err != nil || s != "" {
		t.Errorf("OpenString empty = %q, %v", s, err)
	}
	if _, err := OpenString(c, "not-base64!"); err == nil {
		t.Error("OpenString of junk should fail")
	}
}
