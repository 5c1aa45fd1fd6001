package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// JSONWebKey is the public half of a signing key in RFC 7517 form.
type JSONWebKey struct {
	KeyType   string `json:"kty"`
	KeyID     string `json:"kid"`
	Use       string `json:"use"`
	Algorithm string `json:"alg"`
	Curve     string `json:"crv,omitempty"`
	X         string `json:"x,omitempty"`
	Y         string `json:"y,omitempty"`
	N         string `json:"n,omitempty"`
	E         string `json:"e,omitempty"`
}

// JSONWebKeySet is served to downstream services verifying access tokens.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// PublishKeySet renders the retained key history as a JWK set.
func PublishKeySet(ctx context.Context, keys SigningKeyProvider) (JSONWebKeySet, error) {
	history, err := keys.History(ctx)
	if err != nil {
		return JSONWebKeySet{}, err
	}

	set := JSONWebKeySet{Keys: make([]JSONWebKey, 0, len(history))}
	for _, key := range history {
		jwk, err := NewJSONWebKey(key)
		if err != nil {
			return JSONWebKeySet{}, err
		}
		set.Keys = append(set.Keys, jwk)
	}

	return set, nil
}

// NewJSONWebKey converts the public half of key
func NewJSONWebKey(key SigningKey) (JSONWebKey, error) {
	jwk := JSONWebKey{
		KeyID:     key.KeyID,
		Use:       "sig",
		Algorithm: key.Algorithm,
	}

	switch pub := key.PublicKey().(type) {
	case *ecdsa.PublicKey:
		size := (pub.Curve.Params().BitSize + 7) / 8
		jwk.KeyType = "EC"
		jwk.Curve = pub.Curve.Params().Name
		jwk.X = encodeFixed(pub.X, size)
		jwk.Y = encodeFixed(pub.Y, size)
	case *rsa.PublicKey:
		jwk.KeyType = "RSA"
		jwk.N = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
		jwk.E = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	case ed25519.PublicKey:
		jwk.KeyType = "OKP"
		jwk.Curve = "Ed25519"
		jwk.X = base64.RawURLEncoding.EncodeToString(pub)
	default:
		return JSONWebKey{}, fmt.Errorf("unsupported public key type %T for kid %s", pub, key.KeyID)
	}

	return jwk, nil
}

func encodeFixed(n *big.Int, size int) string {
	return base64.RawURLEncoding.EncodeToString(n.FillBytes(make([]byte, size)))
}
