package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager exposes all repositories
type Manager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	SigningKeys() *SigningKeyStore
}

type mngr struct {
	db          *bun.DB
	users       Users
	signingKeys *SigningKeyStore
}

// NewRepositoryManager wires every repository to db
func NewRepositoryManager(db *bun.DB) Manager {
	return &mngr{
		db:          db,
		users:       NewUsersRepository(db),
		signingKeys: NewSigningKeyStore(db),
	}
}

func (m mngr) Validate() error {
	checks := []struct {
		name  string
		ready bool
	}{
		{"users", m.users != nil},
		{"signing keys", m.signingKeys != nil},
	}

	var errs []error
	for _, c := range checks {
		if !c.ready {
			errs = append(errs, fmt.Errorf("repository %s should be initialized", c.name))
		}
	}
	return errors.Join(errs...)
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.RunInTx(ctx, opts, f)
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) SigningKeys() *SigningKeyStore {
	return m.signingKeys
}
