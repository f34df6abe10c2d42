package bootstrap

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"mongoinit/config"
	"mongoinit/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Admin.Username = "root"
	cfg.Admin.AuthSource = "admin"
	cfg.Target.Database = "app"
	cfg.Target.Collection = "items"
	cfg.App.Username = "svc"
	cfg.App.Role = "dbOwner"
	cfg.App.Mechanism = "SCRAM-SHA-256"
	cfg.App.ConflictPolicy = config.ConflictPolicySkip
	cfg.PasswordPolicy.MinLength = 12
	cfg.PasswordPolicy.RequireClasses = 3
	return cfg
}

func TestLoadInputs(t *testing.T) {
	secrets := &stubSecrets{root: "root-secret", app: "Tr0ub4dor-Horse-7"}

	in, err := LoadInputs(testConfig(), secrets, zap.NewNop().Sugar())
	require.NoError(t, err)

	assert.Equal(t, "root", in.AdminUser)
	assert.Equal(t, "root-secret", in.AdminPassword)
	assert.Equal(t, "app", in.Database)
	assert.Equal(t, "items", in.Collection)
	assert.Equal(t, "svc", in.AppUser)
	assert.Equal(t, "Tr0ub4dor-Horse-7", in.AppPassword)

	admin := in.AdminCredential()
	assert.Equal(t, "admin", admin.Source)

	app := in.AppCredential()
	assert.Equal(t, "app", app.Source, "application user authenticates against the target database")
	assert.Equal(t, "SCRAM-SHA-256", app.Mechanism)

	spec := in.AppUserSpec()
	require.Len(t, spec.Roles, 1)
	assert.Equal(t, "dbOwner", spec.Roles[0].Role)
	assert.Equal(t, "app", spec.Roles[0].DB)
	assert.Equal(t, []string{"SCRAM-SHA-256"}, spec.Mechanisms)
}

func TestLoadInputs_MissingSecrets(t *testing.T) {
	tests := []struct {
		name    string
		secrets *stubSecrets
		want    string
	}{
		{
			name:    "root",
			secrets: &stubSecrets{rootErr: fmt.Errorf("%w: file /run/secrets/mongodb_root_password does not exist", config.ErrSecretNotFound), app: "Tr0ub4dor-Horse-7"},
			want:    "administrative password",
		},
		{
			name:    "app",
			secrets: &stubSecrets{root: "root-secret", appErr: config.ErrEmptySecret},
			want:    "application password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadInputs(testConfig(), tt.secrets, zap.NewNop().Sugar())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ClassConfig, Classify(err))
			assert.Equal(t, 2, ExitCode(err))
		})
	}
}

func TestLoadInputs_WeakPasswordWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	secrets := &stubSecrets{root: "root-secret", app: "short"}

	in, err := LoadInputs(testConfig(), secrets, zap.New(core).Sugar())
	require.NoError(t, err)
	assert.Equal(t, "short", in.AppPassword)

	entries := logs.FilterMessage("Application password does not satisfy password policy").All()
	require.Len(t, entries, 1)
	for _, field := range entries[0].Context {
		assert.NotEqual(t, "short", field.String, "password must not be logged")
	}
}

func TestLoadInputs_WeakPasswordEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordPolicy.Enforce = true

	_, err := LoadInputs(cfg, &stubSecrets{root: "root-secret", app: "short"}, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrWeakPassword)
	assert.Equal(t, 2, ExitCode(err))
}

func TestLoadAppInputs_SkipsRootSecret(t *testing.T) {
	secrets := &stubSecrets{rootErr: config.ErrSecretNotFound, app: "Tr0ub4dor-Horse-7"}

	in, err := LoadAppInputs(testConfig(), secrets, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Empty(t, in.AdminPassword)
	assert.Equal(t, "Tr0ub4dor-Horse-7", in.AppPassword)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
		code int
	}{
		{"nil", nil, ClassNone, 0},
		{"missing setting", fmt.Errorf("%w: %w", ErrConfig, config.ErrMissingSetting), ClassConfig, 2},
		{"bare missing setting", config.ErrMissingSetting, ClassConfig, 2},
		{"secret", config.ErrSecretNotFound, ClassConfig, 2},
		{"admin auth", fmt.Errorf("%w as root: boom", ErrAdminAuth), ClassAuth, 3},
		{"user exists", ErrUserExists, ClassConflict, 4},
		{"role scope", ErrRoleScope, ClassConflict, 4},
		{"verification wins over auth", fmt.Errorf("%w: %w", ErrVerification, mongo.CommandError{Code: 18}), ClassVerification, 1},
		{"missing privilege", fmt.Errorf("failed to list collections in \"app\": %w", mongo.CommandError{Code: 13, Name: "Unauthorized"}), ClassAuth, 3},
		{"network", mongo.CommandError{Code: 6, Labels: []string{"NetworkError"}}, ClassTransport, 1},
		{"other", errors.New("boom"), ClassInternal, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			assert.Equal(t, tt.code, ExitCode(tt.err))
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	_, sugar, err := newLogger("warn", "json", &buf)
	require.NoError(t, err)

	sugar.Infow("hidden")
	sugar.Warnw("shown", "run_id", "abc")
	require.NoError(t, sugar.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"run_id":"abc"`)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, _, err := newLogger("loud", "console", &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}
