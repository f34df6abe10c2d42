package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"mongoinit/config"
	"mongoinit/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var errRefused = errors.New("server selection error: dial tcp 127.0.0.1:27017: connect: connection refused")

type fixture struct {
	in     Inputs
	dialer *MockDialer
	admin  *MockAdmin
	app    *MockAdmin
	stderr *bytes.Buffer
}

func newFixture(in Inputs) *fixture {
	return &fixture{
		in:     in,
		dialer: &MockDialer{},
		admin:  &MockAdmin{},
		app:    &MockAdmin{},
		stderr: &bytes.Buffer{},
	}
}

func (f *fixture) bootstrapper() *Bootstrapper {
	return New(f.dialer, f.in, Options{
		ConnectRetries: 2,
		RetryDelays:    []time.Duration{time.Millisecond},
		Target:         "mongodb://localhost:27017/",
		Stderr:         f.stderr,
	}, zap.NewNop().Sugar())
}

func (f *fixture) expectAdminSession() {
	f.dialer.On("Dial", mock.Anything, f.in.AdminCredential()).Return(f.admin, nil).Once()
	f.admin.On("Close", mock.Anything).Return(nil).Once()
}

func (f *fixture) expectVerification() {
	f.dialer.On("Dial", mock.Anything, f.in.AppCredential()).Return(f.app, nil).Once()
	f.app.On("ConnectionStatus", mock.Anything, "app").Return(authenticatedAs("svc", "app"), nil).Once()
	f.app.On("Close", mock.Anything).Return(nil).Once()
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.dialer.AssertExpectations(t)
	f.admin.AssertExpectations(t)
	f.app.AssertExpectations(t)
}

func TestRun_FreshDatabase(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(false, nil).Once()
	f.admin.On("CreateCollection", mock.Anything, "app", "items").Return(nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(nil, storage.ErrUserNotFound).Once()
	f.admin.On("CreateUser", mock.Anything, "app", mock.MatchedBy(func(spec storage.UserSpec) bool {
		return spec.Username == "svc" &&
			spec.Password == "Tr0ub4dor-Horse-7" &&
			assert.ObjectsAreEqual([]string{"SCRAM-SHA-256"}, spec.Mechanisms) &&
			assert.ObjectsAreEqual([]storage.Role{{Role: "dbOwner", DB: "app"}}, spec.Roles)
	})).Return(nil).Once()
	f.expectVerification()

	result, err := f.bootstrapper().Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "app", result.Database)
	assert.Equal(t, "items", result.Collection)
	assert.True(t, result.CollectionCreated)
	assert.Equal(t, UserCreated, result.UserAction)
	assert.True(t, result.Verified)
	assert.Equal(t, 0, ExitCode(err))
	f.assertExpectations(t)
}

func TestRun_RerunIsNoop(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{
		Username:   "svc",
		DB:         "app",
		Roles:      []storage.Role{{Role: "dbOwner", DB: "app"}},
		Mechanisms: []string{"SCRAM-SHA-256"},
	}, nil).Once()
	f.expectVerification()

	result, err := f.bootstrapper().Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.CollectionCreated)
	assert.Equal(t, UserUnchanged, result.UserAction)
	assert.True(t, result.Verified)
	f.admin.AssertNotCalled(t, "CreateCollection", mock.Anything, mock.Anything, mock.Anything)
	f.admin.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything, mock.Anything)
	f.admin.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestRun_CollectionCreatedConcurrently(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(false, nil).Once()
	f.admin.On("CreateCollection", mock.Anything, "app", "items").
		Return(mongo.CommandError{Code: 48, Name: "NamespaceExists", Message: "Collection app.items already exists."}).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(nil, storage.ErrUserNotFound).Once()
	f.admin.On("CreateUser", mock.Anything, "app", mock.Anything).Return(nil).Once()
	f.expectVerification()

	result, err := f.bootstrapper().Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.CollectionCreated)
	assert.Equal(t, UserCreated, result.UserAction)
	f.assertExpectations(t)
}

func TestRun_UserCreatedConcurrently(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(nil, storage.ErrUserNotFound).Once()
	f.admin.On("CreateUser", mock.Anything, "app", mock.Anything).
		Return(mongo.CommandError{Code: 51003, Message: `User "svc@app" already exists`}).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{
		Username: "svc",
		DB:       "app",
		Roles:    []storage.Role{{Role: "dbOwner", DB: "app"}},
	}, nil).Once()
	f.expectVerification()

	result, err := f.bootstrapper().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UserUnchanged, result.UserAction)
	f.assertExpectations(t)
}

func TestRun_ConflictPolicyFail(t *testing.T) {
	in := testInputs()
	in.ConflictPolicy = config.ConflictPolicyFail
	f := newFixture(in)
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{Username: "svc", DB: "app"}, nil).Once()

	result, err := f.bootstrapper().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUserExists)
	assert.Equal(t, ClassConflict, Classify(err))
	assert.Equal(t, 4, ExitCode(err))
	assert.False(t, result.Verified)

	// verification never runs after a failed step
	f.dialer.AssertNotCalled(t, "Dial", mock.Anything, in.AppCredential())
	f.assertExpectations(t)
}

func TestRun_ConflictPolicyUpdate(t *testing.T) {
	in := testInputs()
	in.ConflictPolicy = config.ConflictPolicyUpdate
	f := newFixture(in)
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{
		Username: "svc",
		DB:       "app",
		Roles:    []storage.Role{{Role: "dbOwner", DB: "app"}, {Role: "read", DB: "reporting"}},
	}, nil).Once()
	f.admin.On("UpdateUser", mock.Anything, "app", in.AppUserSpec()).Return(nil).Once()
	f.expectVerification()

	result, err := f.bootstrapper().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UserUpdated, result.UserAction)
	f.assertExpectations(t)
}

func TestRun_SkipRejectsForeignRoles(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{
		Username: "svc",
		DB:       "app",
		Roles:    []storage.Role{{Role: "dbOwner", DB: "app"}, {Role: "readWriteAnyDatabase", DB: "admin"}},
	}, nil).Once()

	_, err := f.bootstrapper().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoleScope)
	assert.Contains(t, err.Error(), "readWriteAnyDatabase@admin")
	assert.Equal(t, 4, ExitCode(err))
	f.assertExpectations(t)
}

func TestRun_SkipKeepsDifferentLocalRoles(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{
		Username: "svc",
		DB:       "app",
		Roles:    []storage.Role{{Role: "readWrite", DB: "app"}},
	}, nil).Once()
	f.expectVerification()

	result, err := f.bootstrapper().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UserUnchanged, result.UserAction)
	f.admin.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestRun_AdminAuthFailureIsNotRetried(t *testing.T) {
	f := newFixture(testInputs())
	authErr := mongo.CommandError{Code: 18, Name: "AuthenticationFailed", Message: "Authentication failed."}
	f.dialer.On("Dial", mock.Anything, f.in.AdminCredential()).Return(nil, authErr).Once()

	result, err := f.bootstrapper().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdminAuth)
	assert.Equal(t, ClassAuth, Classify(err))
	assert.Equal(t, 3, ExitCode(err))
	assert.NotContains(t, err.Error(), "root-secret")
	assert.False(t, result.Verified)
	assert.Contains(t, f.stderr.String(), "FATAL: MongoDB Authentication Failed")

	f.dialer.AssertNumberOfCalls(t, "Dial", 1)
	f.assertExpectations(t)
}

func TestRun_RetriesTransportErrors(t *testing.T) {
	f := newFixture(testInputs())
	f.dialer.On("Dial", mock.Anything, f.in.AdminCredential()).Return(nil, errRefused).Twice()
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{
		Username: "svc",
		DB:       "app",
		Roles:    []storage.Role{{Role: "dbOwner", DB: "app"}},
	}, nil).Once()
	f.expectVerification()

	_, err := f.bootstrapper().Run(context.Background())
	require.NoError(t, err)
	f.dialer.AssertNumberOfCalls(t, "Dial", 4)
	assert.Empty(t, f.stderr.String())
	f.assertExpectations(t)
}

func TestRun_TransportRetriesExhausted(t *testing.T) {
	f := newFixture(testInputs())
	f.dialer.On("Dial", mock.Anything, f.in.AdminCredential()).Return(nil, errRefused).Times(3)

	_, err := f.bootstrapper().Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.NotErrorIs(t, err, ErrAdminAuth)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, f.stderr.String(), "Connection refused by MongoDB at mongodb://localhost:27017/")
	f.assertExpectations(t)
}

func TestRun_CanceledDuringRetry(t *testing.T) {
	f := newFixture(testInputs())
	ctx, cancel := context.WithCancel(context.Background())
	f.dialer.On("Dial", mock.Anything, f.in.AdminCredential()).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, errRefused).Once()

	_, err := f.bootstrapper().Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ClassTransport, Classify(err))
	f.dialer.AssertNumberOfCalls(t, "Dial", 1)
}

func TestRun_CollectionLookupFailureStops(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").
		Return(false, mongo.CommandError{Code: 13, Name: "Unauthorized"}).Once()

	_, err := f.bootstrapper().Run(context.Background())
	require.Error(t, err)
	assert.True(t, storage.IsUnauthorized(err))
	assert.Equal(t, ClassAuth, Classify(err))
	assert.Equal(t, 3, ExitCode(err))
	f.admin.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestRun_VerificationAuthFailure(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{
		Username: "svc",
		DB:       "app",
		Roles:    []storage.Role{{Role: "dbOwner", DB: "app"}},
	}, nil).Once()
	f.dialer.On("Dial", mock.Anything, f.in.AppCredential()).
		Return(nil, storage.ErrAuthenticationFailed).Once()

	result, err := f.bootstrapper().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerification)
	assert.Equal(t, ClassVerification, Classify(err))
	assert.Equal(t, 1, ExitCode(err))
	assert.False(t, result.Verified)
	f.assertExpectations(t)
}

func TestRun_VerificationWrongIdentity(t *testing.T) {
	f := newFixture(testInputs())
	f.expectAdminSession()
	f.admin.On("CollectionExists", mock.Anything, "app", "items").Return(true, nil).Once()
	f.admin.On("GetUser", mock.Anything, "app", "svc").Return(&storage.UserInfo{
		Username: "svc",
		DB:       "app",
		Roles:    []storage.Role{{Role: "dbOwner", DB: "app"}},
	}, nil).Once()
	f.dialer.On("Dial", mock.Anything, f.in.AppCredential()).Return(f.app, nil).Once()
	f.app.On("ConnectionStatus", mock.Anything, "app").Return(authenticatedAs("svc", "admin"), nil).Once()
	f.app.On("Close", mock.Anything).Return(nil).Once()

	_, err := f.bootstrapper().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerification)
	assert.Contains(t, err.Error(), "not authenticated as svc@app")
	f.assertExpectations(t)
}

func TestVerify_OnlyUsesAppCredential(t *testing.T) {
	in := testInputs()
	in.AdminPassword = ""
	f := newFixture(in)
	f.expectVerification()

	result, err := f.bootstrapper().Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Verified)
	f.dialer.AssertNumberOfCalls(t, "Dial", 1)
	f.assertExpectations(t)
}

func TestRetryDelay(t *testing.T) {
	b := New(&MockDialer{}, testInputs(), Options{ConnectRetries: 5}, zap.NewNop().Sugar())

	assert.Equal(t, 2*time.Second, b.retryDelay(1))
	assert.Equal(t, 4*time.Second, b.retryDelay(2))
	assert.Equal(t, 8*time.Second, b.retryDelay(3))
	assert.Equal(t, 8*time.Second, b.retryDelay(5), "last delay repeats")
}
