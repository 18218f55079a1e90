package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingToken     = errors.New("identity token is required")
	ErrUnknownKey       = errors.New("unknown signing key")
	ErrInvalidSignature = errors.New("signature mismatch")
)

type Identity struct {
	UserID string
	KeyID  string
}

// Verifier checks an inbound request's identity token and body signature.
// Implementations never see the transport; the middleware hands them the raw
// header values and the request body.
type Verifier interface {
	Verify(ctx context.Context, token, keyID, signature string, body []byte) (Identity, error)
}

// StaticKeyring verifies hex HMAC-SHA256 body signatures against a fixed set
// of signing keys configured as "keyID:secret,keyID2:secret2".
type StaticKeyring struct {
	secrets map[string]string
}

func NewStaticKeyring(spec string) (*StaticKeyring, error) {
	keyring := &StaticKeyring{secrets: map[string]string{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return keyring, nil
	}

	entries := strings.Split(spec, ",")
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid signing key entry %q: expected keyID:secret", entry)
		}
		keyID := strings.TrimSpace(parts[0])
		secret := strings.TrimSpace(parts[1])
		if keyID == "" || secret == "" {
			return nil, fmt.Errorf("invalid signing key entry %q: empty key id/secret", entry)
		}
		keyring.secrets[keyID] = secret
	}

	return keyring, nil
}

func (k *StaticKeyring) Verify(_ context.Context, token, keyID, signature string, body []byte) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrMissingToken
	}
	secret, ok := k.secrets[keyID]
	if !ok {
		return Identity{}, ErrUnknownKey
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return Identity{}, ErrInvalidSignature
	}

	return Identity{UserID: strings.TrimSpace(token), KeyID: keyID}, nil
}

// Sign computes the signature a caller would send for body under keyID.
// Used by callers and tests; the service itself only verifies.
func (k *StaticKeyring) Sign(keyID string, body []byte) (string, error) {
	secret, ok := k.secrets[keyID]
	if !ok {
		return "", ErrUnknownKey
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
