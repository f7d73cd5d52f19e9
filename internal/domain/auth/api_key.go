// Package auth verifies API keys presented to the bridge's HTTP API.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when a presented key matches no configured key.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Hash type names returned by DetectHashType.
const (
	HashArgon2id = "argon2id"
	HashSHA256   = "sha256"
	HashUnknown  = "unknown"
)

// Key is one configured API key.
type Key struct {
	// Name identifies the caller in logs.
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	// Hash is "sha256:<hex>", bare sha256 hex, or an argon2id PHC string.
	Hash string `mapstructure:"hash" yaml:"hash" json:"-"`
}

// KeySet authenticates raw keys against a fixed list of hashes.
type KeySet struct {
	bySHA256 map[string]string
	argon    []Key
}

// NewKeySet validates every hash and builds a KeySet.
func NewKeySet(keys []Key) (*KeySet, error) {
	ks := &KeySet{bySHA256: make(map[string]string)}
	for i, k := range keys {
		name := k.Name
		if name == "" {
			name = fmt.Sprintf("key-%d", i)
		}
		switch DetectHashType(k.Hash) {
		case HashSHA256:
			ks.bySHA256[strings.ToLower(strings.TrimPrefix(k.Hash, "sha256:"))] = name
		case HashArgon2id:
			ks.argon = append(ks.argon, Key{Name: name, Hash: k.Hash})
		default:
			return nil, fmt.Errorf("api key %q: %w", name, ErrUnknownHashType)
		}
	}
	return ks, nil
}

// Len returns the number of configured keys.
func (ks *KeySet) Len() int {
	return len(ks.bySHA256) + len(ks.argon)
}

// Authenticate returns the name of the key matching rawKey.
// SHA-256 keys are matched by lookup; argon2id keys are tried in order.
func (ks *KeySet) Authenticate(rawKey string) (string, error) {
	if rawKey == "" {
		return "", ErrInvalidKey
	}
	if name, ok := ks.bySHA256[HashKey(rawKey)]; ok {
		return name, nil
	}
	for _, k := range ks.argon {
		match, err := VerifyKey(rawKey, k.Hash)
		if err != nil {
			continue
		}
		if match {
			return k.Name, nil
		}
	}
	return "", ErrInvalidKey
}

// HashKey returns the SHA-256 hex hash of the raw key.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// argon2idParams follow the OWASP minimum for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format:
// $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
func DetectHashType(storedHash string) string {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return HashArgon2id
	case strings.HasPrefix(storedHash, "sha256:"):
		if isSHA256Hex(strings.TrimPrefix(storedHash, "sha256:")) {
			return HashSHA256
		}
		return HashUnknown
	case isSHA256Hex(storedHash):
		return HashSHA256
	default:
		return HashUnknown
	}
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey reports whether rawKey matches storedHash.
// Returns ErrUnknownHashType for unrecognized hash formats.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case HashArgon2id:
		return safeArgon2idCompare(rawKey, storedHash)
	case HashSHA256:
		expected := strings.ToLower(strings.TrimPrefix(storedHash, "sha256:"))
		computed := HashKey(rawKey)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare converts panics from malformed argon2id parameters
// (t=0, p=0) into errors.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
