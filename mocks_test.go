package identity_test

import (
	"context"
	"sync"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/mock"
)

// MockUserDirectory implements identity.UserDirectory
type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Identity), args.Error(1)
}

func (m *MockUserDirectory) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Identity), args.Error(1)
}

func (m *MockUserDirectory) CreateUser(ctx context.Context, user identity.NewUser) (*identity.Identity, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Identity), args.Error(1)
}

func (m *MockUserDirectory) DeleteUser(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUserDirectory) GetRoles(ctx context.Context, id string) ([]string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockUserDirectory) GetClaims(ctx context.Context, id string) ([]identity.Claim, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Claim), args.Error(1)
}

func (m *MockUserDirectory) CheckPassword(ctx context.Context, email, password string, lockoutOnFailure bool) (identity.SignInResult, error) {
	args := m.Called(ctx, email, password, lockoutOnFailure)
	return args.Get(0).(identity.SignInResult), args.Error(1)
}

// MockSessionIssuer implements identity.SessionIssuer
type MockSessionIssuer struct {
	mock.Mock
}

func (m *MockSessionIssuer) IssueSession(ctx context.Context, id identity.Identity) (*identity.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

// MockRefreshTokenValidator implements identity.RefreshTokenValidator
type MockRefreshTokenValidator struct {
	mock.Mock
}

func (m *MockRefreshTokenValidator) ValidateRefreshToken(ctx context.Context, token string) (identity.RefreshValidation, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(identity.RefreshValidation), args.Error(1)
}

// MockEventBus implements identity.EventBus
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Request(ctx context.Context, req identity.RegistrationRequest) (identity.RegistrationResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(identity.RegistrationResult), args.Error(1)
}

// MockIdentityService implements identity.IdentityService
type MockIdentityService struct {
	mock.Mock
}

func (m *MockIdentityService) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

func (m *MockIdentityService) Refresh(ctx context.Context, token string) (*identity.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

func (m *MockIdentityService) Register(ctx context.Context, account identity.NewAccount) (*identity.Session, identity.RegistrationOutcome, error) {
	args := m.Called(ctx, account)
	var session *identity.Session
	if args.Get(0) != nil {
		session = args.Get(0).(*identity.Session)
	}
	return session, args.Get(1).(identity.RegistrationOutcome), args.Error(2)
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event identity.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []identity.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]identity.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// memoryKeyStore implements identity.KeyStore
type memoryKeyStore struct {
	mu    sync.Mutex
	keys  []identity.SigningKey
	saves int
}

func (s *memoryKeyStore) LoadKeys(_ context.Context) ([]identity.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.SigningKey, len(s.keys))
	for i, k := range s.keys {
		out[len(s.keys)-1-i] = k
	}
	return out, nil
}

func (s *memoryKeyStore) SaveCurrentKey(_ context.Context, key identity.SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		s.keys[i].Current = false
	}
	key.Current = true
	s.keys = append(s.keys, key)
	s.saves++
	return nil
}
