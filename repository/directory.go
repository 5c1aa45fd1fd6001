package repository

import (
	"context"
	"errors"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Directory is the bun backed identity.UserDirectory
type Directory struct {
	repos   Manager
	hasher  identity.PasswordHasher
	lockout identity.LockoutPolicy
	now     func() time.Time
	logger  identity.Logger
}

var _ identity.UserDirectory = (*Directory)(nil)

var errAlreadyLockedOut = errors.New("account already locked out")

// NewDirectory creates a Directory over the given repositories
func NewDirectory(repos Manager, cfg identity.Config) *Directory {
	return &Directory{
		repos:   repos,
		hasher:  identity.NewBcryptHasher(),
		lockout: identity.NewLockoutPolicy(cfg),
		now:     time.Now,
		logger:  noopLogger{},
	}
}

func (d *Directory) WithLogger(logger identity.Logger) *Directory {
	if logger != nil {
		d.logger = logger
	}
	return d
}

func (d *Directory) WithPasswordHasher(hasher identity.PasswordHasher) *Directory {
	if hasher != nil {
		d.hasher = hasher
	}
	return d
}

// WithClock injects a custom clock (useful for tests).
func (d *Directory) WithClock(clock func() time.Time) *Directory {
	if clock != nil {
		d.now = clock
	}
	return d
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	record, err := d.repos.Users().GetByEmail(ctx, email)
	if err != nil {
		return nil, notFound(err, "email", email)
	}
	return toIdentity(record), nil
}

func (d *Directory) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, identity.NewIdentityNotFound("id", id, err)
	}

	record, err := d.repos.Users().GetByID(ctx, uid.String())
	if err != nil {
		return nil, notFound(err, "id", id)
	}
	return toIdentity(record), nil
}

// CreateUser stores the user with its roles and claims in one transaction.
func (d *Directory) CreateUser(ctx context.Context, user identity.NewUser) (*identity.Identity, error) {
	hash, err := d.hasher.Hash(user.Password)
	if err != nil {
		return nil, err
	}

	record := &UserModel{
		Email:          user.Email,
		EmailConfirmed: user.EmailConfirmed,
		PasswordHash:   hash,
	}

	err = d.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := d.repos.Users().GetByEmailTx(ctx, tx, user.Email); err == nil {
			return identity.NewEmailAlreadyExists(user.Email)
		} else if !repository.IsRecordNotFound(err) {
			return err
		}

		if _, err := d.repos.Users().RegisterTx(ctx, tx, record); err != nil {
			return err
		}

		if roles := rolesToModels(record.ID, user.Roles); len(roles) > 0 {
			if _, err := tx.NewInsert().Model(&roles).Exec(ctx); err != nil {
				return err
			}
		}

		if claims := claimsToModels(record.ID, user.Claims); len(claims) > 0 {
			if _, err := tx.NewInsert().Model(&claims).Exec(ctx); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debug("directory user created", "user_id", record.ID, "email", record.Email)

	created := toIdentity(record)
	created.Roles = append([]string(nil), user.Roles...)
	created.Claims = append([]identity.Claim(nil), user.Claims...)
	return created, nil
}

// DeleteUser removes the user. Deleting a missing user is not an error so
// compensation can run more than once.
func (d *Directory) DeleteUser(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return identity.NewIdentityNotFound("id", id, err)
	}

	var removed bool
	err = d.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		removed, err = d.repos.Users().PurgeTx(ctx, tx, uid)
		return err
	})
	if err != nil {
		return err
	}

	d.logger.Debug("directory user deleted", "user_id", id, "removed", removed)
	return nil
}

func (d *Directory) GetRoles(ctx context.Context, id string) ([]string, error) {
	records, err := d.repos.Users().ListRoles(ctx, id)
	if err != nil {
		return nil, err
	}

	roles := make([]string, 0, len(records))
	for _, r := range records {
		roles = append(roles, r.Role)
	}
	return roles, nil
}

func (d *Directory) GetClaims(ctx context.Context, id string) ([]identity.Claim, error) {
	records, err := d.repos.Users().ListClaims(ctx, id)
	if err != nil {
		return nil, err
	}

	claims := make([]identity.Claim, 0, len(records))
	for _, c := range records {
		claims = append(claims, identity.Claim{Type: c.ClaimType, Value: c.ClaimValue})
	}
	return claims, nil
}

// CheckPassword verifies credentials and applies the lockout policy. An
// unknown email is reported as a plain failure.
func (d *Directory) CheckPassword(ctx context.Context, email, password string, lockoutOnFailure bool) (identity.SignInResult, error) {
	users := d.repos.Users()

	record, err := users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return identity.SignInFailed, nil
		}
		return identity.SignInFailed, err
	}

	now := d.now()
	if d.lockout.Locked(record.LockoutEnd, now) {
		return identity.SignInLockedOut, nil
	}

	if err := d.hasher.Compare(password, record.PasswordHash); err == nil {
		if record.AccessFailedCount > 0 || record.LockoutEnd != nil {
			if err := users.TrackSuccessfulLogin(ctx, record.ID); err != nil {
				return identity.SignInFailed, err
			}
		}
		return identity.SignInSucceeded, nil
	}

	if !lockoutOnFailure {
		return identity.SignInFailed, nil
	}

	var until *time.Time
	err = d.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := users.IncrementFailedLoginTx(ctx, tx, record.ID)
		if err != nil {
			return err
		}

		// a concurrent failure locked the account first
		if d.lockout.Locked(current.LockoutEnd, now) {
			return errAlreadyLockedOut
		}

		var failed int
		failed, until = d.lockout.RegisterFailure(current.AccessFailedCount-1, now)
		if until == nil {
			return nil
		}
		return users.TrackFailedLoginTx(ctx, tx, record.ID, failed, until)
	})

	switch {
	case errors.Is(err, errAlreadyLockedOut):
		return identity.SignInLockedOut, nil
	case repository.IsRecordNotFound(err):
		return identity.SignInFailed, nil
	case err != nil:
		return identity.SignInFailed, err
	}

	if until != nil {
		d.logger.Warn("directory account locked out", "user_id", record.ID, "until", until)
		return identity.SignInLockedOut, nil
	}

	return identity.SignInFailed, nil
}

func notFound(err error, field, value string) error {
	if repository.IsRecordNotFound(err) {
		return identity.NewIdentityNotFound(field, value, err)
	}
	return err
}

func toIdentity(record *UserModel) *identity.Identity {
	return &identity.Identity{
		ID:             record.ID.String(),
		Email:          record.Email,
		EmailConfirmed: record.EmailConfirmed,
	}
}

func rolesToModels(userID uuid.UUID, roles []string) []UserRoleModel {
	out := make([]UserRoleModel, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, UserRoleModel{UserID: userID, Role: role, Position: len(out)})
	}
	return out
}

func claimsToModels(userID uuid.UUID, claims []identity.Claim) []UserClaimModel {
	out := make([]UserClaimModel, 0, len(claims))
	for i, c := range claims {
		out = append(out, UserClaimModel{
			ID:         uuid.New(),
			UserID:     userID,
			ClaimType:  c.Type,
			ClaimValue: c.Value,
			Position:   i,
		})
	}
	return out
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
