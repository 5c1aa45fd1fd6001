package repository

import (
	"context"
	"fmt"

	identity "github.com/goliatone/go-identity"
	"github.com/uptrace/bun"
)

// SigningKeyStore persists signing keys so tokens survive restarts
type SigningKeyStore struct {
	db *bun.DB
}

var _ identity.KeyStore = (*SigningKeyStore)(nil)

// NewSigningKeyStore creates a new store.
func NewSigningKeyStore(db *bun.DB) *SigningKeyStore {
	return &SigningKeyStore{db: db}
}

// LoadKeys returns every stored key, newest first.
func (s *SigningKeyStore) LoadKeys(ctx context.Context) ([]identity.SigningKey, error) {
	var models []SigningKeyModel
	err := s.db.NewSelect().
		Model(&models).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]identity.SigningKey, 0, len(models))
	for i := range models {
		key, err := toSigningKey(&models[i])
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// SaveCurrentKey implements identity.KeyStore.
func (s *SigningKeyStore) SaveCurrentKey(ctx context.Context, key identity.SigningKey) error {
	model, err := fromSigningKey(key)
	if err != nil {
		return err
	}
	model.IsCurrent = true

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model((*SigningKeyModel)(nil)).
			Set("is_current = ?", false).
			Where("is_current = ?", true).
			Exec(ctx); err != nil {
			return err
		}

		_, err := tx.NewInsert().Model(model).Exec(ctx)
		return err
	})
}

func toSigningKey(m *SigningKeyModel) (identity.SigningKey, error) {
	signer, err := identity.DecodePrivateKey([]byte(m.PrivateKey))
	if err != nil {
		return identity.SigningKey{}, fmt.Errorf("signing key %s: %w", m.KeyID, err)
	}

	key := identity.SigningKey{
		KeyID:      m.KeyID,
		Algorithm:  m.Algorithm,
		PrivateKey: signer,
		CreatedAt:  m.CreatedAt,
		Current:    m.IsCurrent,
	}
	if m.NotAfter != nil {
		key.NotAfter = *m.NotAfter
	}
	return key, nil
}

func fromSigningKey(key identity.SigningKey) (*SigningKeyModel, error) {
	pemBytes, err := identity.EncodePrivateKey(key)
	if err != nil {
		return nil, err
	}

	model := &SigningKeyModel{
		KeyID:      key.KeyID,
		Algorithm:  key.Algorithm,
		PrivateKey: string(pemBytes),
		IsCurrent:  key.Current,
		CreatedAt:  key.CreatedAt,
	}
	if !key.NotAfter.IsZero() {
		notAfter := key.NotAfter
		model.NotAfter = &notAfter
	}
	return model, nil
}
