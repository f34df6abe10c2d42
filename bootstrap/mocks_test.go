package bootstrap

import (
	"context"

	"mongoinit/config"
	"mongoinit/storage"

	"github.com/stretchr/testify/mock"
)

// MockDialer is a mock implementation of storage.Dialer.
type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Dial(ctx context.Context, cred storage.Credential) (storage.Admin, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Admin), args.Error(1)
}

// MockAdmin is a mock implementation of storage.Admin.
type MockAdmin struct {
	mock.Mock
}

func (m *MockAdmin) CollectionExists(ctx context.Context, db, collection string) (bool, error) {
	args := m.Called(ctx, db, collection)
	return args.Bool(0), args.Error(1)
}

func (m *MockAdmin) CreateCollection(ctx context.Context, db, collection string) error {
	args := m.Called(ctx, db, collection)
	return args.Error(0)
}

func (m *MockAdmin) GetUser(ctx context.Context, db, username string) (*storage.UserInfo, error) {
	args := m.Called(ctx, db, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.UserInfo), args.Error(1)
}

func (m *MockAdmin) CreateUser(ctx context.Context, db string, spec storage.UserSpec) error {
	args := m.Called(ctx, db, spec)
	return args.Error(0)
}

func (m *MockAdmin) UpdateUser(ctx context.Context, db string, spec storage.UserSpec) error {
	args := m.Called(ctx, db, spec)
	return args.Error(0)
}

func (m *MockAdmin) ConnectionStatus(ctx context.Context, db string) (*storage.ConnectionStatus, error) {
	args := m.Called(ctx, db)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.ConnectionStatus), args.Error(1)
}

func (m *MockAdmin) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// stubSecrets is a fixed config.SecretManager.
type stubSecrets struct {
	root    string
	app     string
	rootErr error
	appErr  error
}

func (s *stubSecrets) GetSecret(key string) (string, error) {
	switch key {
	case config.SecretKeyRootPassword:
		return s.GetRootPassword()
	case config.SecretKeyAppPassword:
		return s.GetAppPassword()
	}
	return "", config.ErrSecretNotFound
}

func (s *stubSecrets) GetRootPassword() (string, error) {
	return s.root, s.rootErr
}

func (s *stubSecrets) GetAppPassword() (string, error) {
	return s.app, s.appErr
}

func testInputs() Inputs {
	return Inputs{
		AdminUser:      "root",
		AdminPassword:  "root-secret",
		AdminSource:    "admin",
		Database:       "app",
		Collection:     "items",
		AppUser:        "svc",
		AppPassword:    "Tr0ub4dor-Horse-7",
		AppRole:        "dbOwner",
		AppMechanism:   "SCRAM-SHA-256",
		ConflictPolicy: config.ConflictPolicySkip,
	}
}

func authenticatedAs(user, db string) *storage.ConnectionStatus {
	status := &storage.ConnectionStatus{}
	status.AuthInfo.AuthenticatedUsers = []storage.AuthenticatedUser{{User: user, DB: db}}
	return status
}
