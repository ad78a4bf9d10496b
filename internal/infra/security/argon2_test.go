package security

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	hasher, err := NewArgon2Hasher(Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return hasher
}

func TestArgon2Hasher_HashAndVerify(t *testing.T) {
	hasher := testHasher(t)
	secret := "correct horse battery staple"

	encoded, err := hasher.Hash(secret)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		t.Fatalf("unexpected hash format: %q", encoded)
	}
	if parts[0] != argon2Variant || parts[1] != argon2Version {
		t.Fatalf("unexpected header %s$%s", parts[0], parts[1])
	}
	if parts[2] != "m=8192,t=1,p=1" {
		t.Fatalf("unexpected params segment %s", parts[2])
	}

	ok, err := hasher.Verify(secret, encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for correct secret")
	}

	ok, err = hasher.Verify("Tr0ub4dor&3", encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify returned true for incorrect secret")
	}
}

func TestArgon2Hasher_VerifyUsesEmbeddedParams(t *testing.T) {
	strong, err := NewArgon2Hasher(Argon2Config{Memory: 16 * 1024, Iterations: 2, Parallelism: 2, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	encoded, err := strong.Hash("secret")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	ok, err := testHasher(t).Verify("secret", encoded)
	if err != nil || !ok {
		t.Fatalf("expected verification with embedded params, ok=%v err=%v", ok, err)
	}
}

func TestArgon2Hasher_InvalidInput(t *testing.T) {
	hasher := testHasher(t)

	if _, err := hasher.Verify("secret", "invalid-format"); err == nil {
		t.Fatal("expected error for invalid format")
	}
	if _, err := hasher.Verify("secret", "argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"); err == nil {
		t.Fatal("expected error for unexpected variant")
	}

	ok, err := hasher.Verify("", "")
	if err != nil || ok {
		t.Fatalf("expected false without error for empty input, ok=%v err=%v", ok, err)
	}
}

func TestNewArgon2Hasher_RejectsWeakConfig(t *testing.T) {
	if _, err := NewArgon2Hasher(Argon2Config{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatal("expected error for low memory")
	}
	if _, err := NewArgon2Hasher(DefaultArgon2Config()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}
