package identity

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const pemBlockPrivateKey = "PRIVATE KEY"

// SigningKey is asymmetric key material used to sign and verify tokens.
type SigningKey struct {
	KeyID      string
	Algorithm  string
	PrivateKey crypto.Signer
	CreatedAt  time.Time
	NotAfter   time.Time
	Current    bool
}

// PublicKey returns the verification half of the key
func (k SigningKey) PublicKey() crypto.PublicKey {
	if k.PrivateKey == nil {
		return nil
	}
	return k.PrivateKey.Public()
}

// Method returns the jwt signing method for the key algorithm
func (k SigningKey) Method() jwt.SigningMethod {
	return jwt.GetSigningMethod(k.Algorithm)
}

// IsZero reports whether the key carries no material
func (k SigningKey) IsZero() bool {
	return k.KeyID == "" || k.PrivateKey == nil
}

// Expired reports whether the key is past its rotation window
func (k SigningKey) Expired(now time.Time) bool {
	return !k.NotAfter.IsZero() && !now.Before(k.NotAfter)
}

// SigningKeyProvider supplies the active signing key and the retained history.
// History is ordered newest first and includes the current key.
type SigningKeyProvider interface {
	Current(ctx context.Context) (SigningKey, error)
	History(ctx context.Context) ([]SigningKey, error)
}

// StaticKeyProvider serves a fixed set of keys, newest first. The first key
// is the current one.
type StaticKeyProvider []SigningKey

func (p StaticKeyProvider) Current(_ context.Context) (SigningKey, error) {
	if len(p) == 0 || p[0].IsZero() {
		return SigningKey{}, newError(ErrSigningKeyUnavailable, nil, map[string]any{"operation": "current"})
	}
	return p[0], nil
}

func (p StaticKeyProvider) History(_ context.Context) ([]SigningKey, error) {
	return append([]SigningKey(nil), p...), nil
}

// KeyStore persists signing keys across restarts.
type KeyStore interface {
	LoadKeys(ctx context.Context) ([]SigningKey, error)
	// SaveCurrentKey stores key and clears the current flag of every other key.
	SaveCurrentKey(ctx context.Context, key SigningKey) error
}

// GenerateSigningKey creates fresh key material for one of ES256, RS256 or EdDSA.
func GenerateSigningKey(algorithm string, now time.Time, lifetime time.Duration) (SigningKey, error) {
	var (
		signer crypto.Signer
		err    error
	)

	switch algorithm {
	case jwt.SigningMethodES256.Alg():
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case jwt.SigningMethodRS256.Alg():
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case jwt.SigningMethodEdDSA.Alg():
		_, signer, err = ed25519.GenerateKey(rand.Reader)
	default:
		return SigningKey{}, fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}

	if err != nil {
		return SigningKey{}, fmt.Errorf("generate %s key: %w", algorithm, err)
	}

	key := SigningKey{
		KeyID:      uuid.NewString(),
		Algorithm:  algorithm,
		PrivateKey: signer,
		CreatedAt:  now,
		Current:    true,
	}
	if lifetime > 0 {
		key.NotAfter = now.Add(lifetime)
	}

	return key, nil
}

// EncodePrivateKey serializes the private key as a PKCS#8 PEM block
func EncodePrivateKey(key SigningKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal private key %s: %w", key.KeyID, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemBlockPrivateKey, Bytes: der}), nil
}

// DecodePrivateKey parses a PKCS#8 PEM block produced by EncodePrivateKey
func DecodePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemBlockPrivateKey {
		return nil, fmt.Errorf("invalid private key PEM block")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key of type %T cannot sign", parsed)
	}

	return signer, nil
}
