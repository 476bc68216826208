package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealRoundTrip(t *testing.T) {
	sealed, err := EncryptString("any-length-secret", `{"webhook_url":"https://hooks.test"}`)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed[0] != payloadV1 {
		t.Fatalf("expected version prefix %x, got %x", payloadV1, sealed[0])
	}
	if bytes.Contains(sealed, []byte("hooks.test")) {
		t.Fatalf("plaintext leaked into sealed payload")
	}

	plain, err := DecryptToString("any-length-secret", sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != `{"webhook_url":"https://hooks.test"}` {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestDecryptRejectsWrongSecret(t *testing.T) {
	sealed, err := EncryptString("secret-a", "payload")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptToString("secret-b", sealed); err == nil {
		t.Fatalf("expected authentication failure with the wrong secret")
	}
}

func TestDecryptRejectsMalformedPayload(t *testing.T) {
	if _, err := DecryptToString("secret", []byte{payloadV1, 0x02}); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for short payload, got %v", err)
	}

	sealed, err := EncryptString("secret", "payload")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sealed[0] = 0x7f
	if _, err := DecryptToString("secret", sealed); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for unknown version, got %v", err)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	sealed, err := EncryptString("secret", "payload")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := DecryptToString("secret", sealed); err == nil {
		t.Fatalf("expected authentication failure for tampered payload")
	}
}
