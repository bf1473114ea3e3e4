package crypto

import (
	"strings"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	enc, err := c.Encrypt("sk-test-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(enc, "sk-test-secret") {
		t.Fatal("ciphertext contains plaintext")
	}

	dec, err := c.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if dec != "sk-test-secret" {
		t.Fatalf("round trip mismatch: %q", dec)
	}

	// 随机 nonce: 同一明文两次加密的密文不同
	enc2, _ := c.Encrypt("sk-test-secret")
	if enc == enc2 {
		t.Fatal("two encryptions produced identical ciphertext")
	}
}

func TestCipherKeyLength(t *testing.T) {
	if _, err := NewCipher("short"); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestCipherDecryptGarbage(t *testing.T) {
	c, _ := NewCipher("0123456789abcdef0123456789abcdef")
	if _, err := c.Decrypt("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := c.Decrypt("YWJj"); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestMask(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"sk-1234567890abcdef", "sk-1****cdef"},
		{"short", "*****"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Mask(tc.in); got != tc.want {
			t.Errorf("Mask(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
