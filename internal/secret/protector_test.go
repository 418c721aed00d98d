package secret_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sitewatch/monitor/internal/secret"
)

func TestProtect_RoundTrip(t *testing.T) {
	p, err := secret.NewProtector(t.TempDir(), secret.SmtpPasswordPurpose)
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	for _, plain := range []string{"", "hunter2", "päss wörd ütf8", "a very long secret value with spaces"} {
		opaque, err := p.Protect(plain)
		if err != nil {
			t.Fatalf("Protect(%q): %v", plain, err)
		}
		if opaque == plain && plain != "" {
			t.Errorf("Protect(%q) returned plaintext", plain)
		}
		got, err := p.Unprotect(opaque)
		if err != nil {
			t.Fatalf("Unprotect: %v", err)
		}
		if got != plain {
			t.Errorf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestProtect_NonDeterministicCiphertext(t *testing.T) {
	p, err := secret.NewProtector(t.TempDir(), secret.SmtpPasswordPurpose)
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	a, _ := p.Protect("hunter2")
	b, _ := p.Protect("hunter2")
	if a == b {
		t.Error("two Protect calls yielded identical ciphertexts; nonce not randomised")
	}
}

func TestUnprotect_WrongPurposeFails(t *testing.T) {
	dir := t.TempDir()
	p1, err := secret.NewProtector(dir, secret.SmtpPasswordPurpose)
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}
	p2, err := secret.NewProtector(dir, "OtherPurpose.v1")
	if err != nil {
		t.Fatalf("NewProtector(other): %v", err)
	}

	opaque, _ := p1.Protect("hunter2")
	if _, err := p2.Unprotect(opaque); !errors.Is(err, secret.ErrProtectorFailure) {
		t.Errorf("cross-purpose Unprotect = %v, want ErrProtectorFailure", err)
	}
}

func TestUnprotect_GarbageInput(t *testing.T) {
	p, err := secret.NewProtector(t.TempDir(), secret.SmtpPasswordPurpose)
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	for _, opaque := range []string{"", "not-base64!!!", "aGVsbG8="} {
		if _, err := p.Unprotect(opaque); !errors.Is(err, secret.ErrProtectorFailure) {
			t.Errorf("Unprotect(%q) = %v, want ErrProtectorFailure", opaque, err)
		}
	}
}

func TestNewProtector_PersistsMasterKey(t *testing.T) {
	dir := t.TempDir()

	p1, err := secret.NewProtector(dir, secret.SmtpPasswordPurpose)
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}
	opaque, _ := p1.Protect("hunter2")

	// A second protector over the same data root reuses the key file and can
	// decrypt tokens from the first.
	p2, err := secret.NewProtector(dir, secret.SmtpPasswordPurpose)
	if err != nil {
		t.Fatalf("second NewProtector: %v", err)
	}
	got, err := p2.Unprotect(opaque)
	if err != nil || got != "hunter2" {
		t.Errorf("Unprotect with reloaded key = (%q, %v)", got, err)
	}

	info, err := os.Stat(filepath.Join(dir, "protector.key"))
	if err != nil {
		t.Fatalf("key file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file mode = %o, want 600", perm)
	}
}

func TestNewProtector_RejectsTruncatedKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "protector.key"), []byte("short"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := secret.NewProtector(dir, secret.SmtpPasswordPurpose); err == nil {
		t.Error("NewProtector accepted a truncated key file")
	}
}
