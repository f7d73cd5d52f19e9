package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	// sha256("secret")
	want := "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if got := HashKey("secret"); got != want {
		t.Errorf("HashKey() = %q, want %q", got, want)
	}
}

func TestDetectHashType(t *testing.T) {
	hex := HashKey("k")
	tests := []struct {
		name string
		hash string
		want string
	}{
		{"argon2id", "$argon2id$v=19$m=47104,t=1,p=1$c2FsdA$aGFzaA", HashArgon2id},
		{"prefixed sha256", "sha256:" + hex, HashSHA256},
		{"bare sha256", hex, HashSHA256},
		{"uppercase bare sha256", strings.ToUpper(hex), HashSHA256},
		{"prefixed garbage", "sha256:xyz", HashUnknown},
		{"short hex", "abcd", HashUnknown},
		{"empty", "", HashUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHashType(tt.hash); got != tt.want {
				t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.want)
			}
		})
	}
}

func TestVerifyKey(t *testing.T) {
	argonHash, err := HashKeyArgon2id("right")
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}

	tests := []struct {
		name    string
		raw     string
		hash    string
		want    bool
		wantErr error
	}{
		{"sha256 match", "right", "sha256:" + HashKey("right"), true, nil},
		{"sha256 mismatch", "wrong", "sha256:" + HashKey("right"), false, nil},
		{"bare sha256 match", "right", HashKey("right"), true, nil},
		{"argon2id match", "right", argonHash, true, nil},
		{"argon2id mismatch", "wrong", argonHash, false, nil},
		{"unknown format", "right", "plaintext", false, ErrUnknownHashType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VerifyKey(tt.raw, tt.hash)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("VerifyKey() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("VerifyKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyKey_MalformedArgon2idDoesNotPanic(t *testing.T) {
	malformed := "$argon2id$v=19$m=47104,t=0,p=0$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA"
	match, err := VerifyKey("anything", malformed)
	if match {
		t.Error("VerifyKey() matched a malformed hash")
	}
	if err == nil {
		t.Error("VerifyKey() error = nil, want error for malformed parameters")
	}
}

func TestKeySet_Authenticate(t *testing.T) {
	argonHash, err := HashKeyArgon2id("argon-key")
	if err != nil {
		t.Fatal(err)
	}
	ks, err := NewKeySet([]Key{
		{Name: "ops", Hash: "sha256:" + HashKey("sha-key")},
		{Name: "bot", Hash: argonHash},
		{Hash: HashKey("unnamed")},
	})
	if err != nil {
		t.Fatalf("NewKeySet() error = %v", err)
	}
	if ks.Len() != 3 {
		t.Errorf("Len() = %d, want 3", ks.Len())
	}

	tests := []struct {
		raw     string
		want    string
		wantErr error
	}{
		{"sha-key", "ops", nil},
		{"argon-key", "bot", nil},
		{"unnamed", "key-2", nil},
		{"nope", "", ErrInvalidKey},
		{"", "", ErrInvalidKey},
	}
	for _, tt := range tests {
		got, err := ks.Authenticate(tt.raw)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Authenticate(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("Authenticate(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNewKeySet_RejectsUnknownHash(t *testing.T) {
	_, err := NewKeySet([]Key{{Name: "bad", Hash: "hunter2"}})
	if !errors.Is(err, ErrUnknownHashType) {
		t.Errorf("NewKeySet() error = %v, want ErrUnknownHashType", err)
	}
}
