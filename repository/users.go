package repository

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the user record repository backing the Directory
type Users interface {
	repository.Repository[*UserModel]

	GetByEmail(ctx context.Context, email string) (*UserModel, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*UserModel, error)
	Register(ctx context.Context, user *UserModel) (*UserModel, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *UserModel) (*UserModel, error)
	TrackFailedLogin(ctx context.Context, id uuid.UUID, failed int, lockoutEnd *time.Time) error
	TrackFailedLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, failed int, lockoutEnd *time.Time) error
	IncrementFailedLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*UserModel, error)
	TrackSuccessfulLogin(ctx context.Context, id uuid.UUID) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	ListRoles(ctx context.Context, userID string) ([]UserRoleModel, error)
	ListClaims(ctx context.Context, userID string) ([]UserClaimModel, error)
	Purge(ctx context.Context, id uuid.UUID) (bool, error)
	PurgeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
}

type users struct {
	repository.Repository[*UserModel]
	db *bun.DB
}

var (
	_ Users                             = (*users)(nil)
	_ repository.Repository[*UserModel] = (*users)(nil)
)

// NewUsersRepository returns the bun backed Users repository
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*UserModel](db, repository.ModelHandlers[*UserModel]{
		NewRecord: func() *UserModel { return &UserModel{} },
		GetID: func(u *UserModel) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *UserModel, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "normalized_email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

// NormalizeEmail is the lookup key of an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *users) GetByEmail(ctx context.Context, email string) (*UserModel, error) {
	return u.GetByEmailTx(ctx, u.db, email)
}

func (u *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*UserModel, error) {
	record := &UserModel{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.normalized_email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": email,
				})
		}
		return nil, err
	}
	return record, nil
}

func (u *users) Register(ctx context.Context, user *UserModel) (*UserModel, error) {
	return u.RegisterTx(ctx, u.db, user)
}

func (u *users) RegisterTx(ctx context.Context, tx bun.IDB, user *UserModel) (*UserModel, error) {
	prepareUserDefaults(user)
	return u.Repository.CreateTx(ctx, tx, user)
}

func (u *users) TrackFailedLogin(ctx context.Context, id uuid.UUID, failed int, lockoutEnd *time.Time) error {
	return u.TrackFailedLoginTx(ctx, u.db, id, failed, lockoutEnd)
}

func (u *users) TrackFailedLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, failed int, lockoutEnd *time.Time) error {
	// explicit columns so zero values are written
	_, err := tx.NewUpdate().
		Model((*UserModel)(nil)).
		Set("access_failed_count = ?", failed).
		Set("lockout_end = ?", lockoutEnd).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// IncrementFailedLoginTx bumps the failure counter in place and returns the
// stored counter and lockout end after the update.
func (u *users) IncrementFailedLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*UserModel, error) {
	record := &UserModel{}
	err := tx.NewUpdate().
		Model(record).
		Set("access_failed_count = access_failed_count + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Returning("access_failed_count, lockout_end").
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}
	record.ID = id
	return record, nil
}

func (u *users) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID) error {
	return u.TrackSuccessfulLoginTx(ctx, u.db, id)
}

func (u *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return u.TrackFailedLoginTx(ctx, tx, id, 0, nil)
}

func (u *users) ListRoles(ctx context.Context, userID string) ([]UserRoleModel, error) {
	records := []UserRoleModel{}
	err := u.db.NewSelect().
		Model(&records).
		Where("user_id = ?", userID).
		Order("position ASC").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (u *users) ListClaims(ctx context.Context, userID string) ([]UserClaimModel, error) {
	records := []UserClaimModel{}
	err := u.db.NewSelect().
		Model(&records).
		Where("user_id = ?", userID).
		Order("position ASC").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (u *users) Purge(ctx context.Context, id uuid.UUID) (bool, error) {
	return u.PurgeTx(ctx, u.db, id)
}

// PurgeTx hard deletes the user with its roles and claims. It reports
// whether a user row was removed.
func (u *users) PurgeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	if _, err := tx.NewDelete().
		Model((*UserClaimModel)(nil)).
		Where("user_id = ?", id).
		Exec(ctx); err != nil {
		return false, err
	}

	if _, err := tx.NewDelete().
		Model((*UserRoleModel)(nil)).
		Where("user_id = ?", id).
		Exec(ctx); err != nil {
		return false, err
	}

	res, err := tx.NewDelete().
		Model((*UserModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func prepareUserDefaults(record *UserModel) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	record.Email = strings.TrimSpace(record.Email)
	record.NormalizedEmail = NormalizeEmail(record.Email)
}
