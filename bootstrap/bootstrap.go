package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"mongoinit/config"
	"mongoinit/metrics"
	"mongoinit/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step names used in logs, plans and metrics
const (
	StepAuthenticateAdmin = "authenticate_admin"
	StepEnsureCollection  = "ensure_collection"
	StepEnsureUser        = "ensure_user"
	StepVerifyUser        = "verify_user"
)

// UserAction is what happened to the application user
type UserAction string

const (
	UserCreated   UserAction = "created"
	UserUpdated   UserAction = "updated"
	UserUnchanged UserAction = "unchanged"
)

// Options tunes connection retry and failure reporting
type Options struct {
	// ConnectRetries is the number of extra admin dial attempts after a transport failure
	ConnectRetries int
	// RetryDelays is indexed by retry number; the last entry repeats
	RetryDelays []time.Duration
	// Target names the server in failure banners, without credentials
	Target string
	// Stderr receives FATAL banners; nil disables them
	Stderr io.Writer
}

// DefaultRetryDelays is the backoff between admin dial attempts
var DefaultRetryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// DefaultOptions returns the options used by the CLI
func DefaultOptions() Options {
	return Options{
		ConnectRetries: 3,
		RetryDelays:    DefaultRetryDelays,
		Stderr:         os.Stderr,
	}
}

// Result reports what a run did
type Result struct {
	RunID             string
	Database          string
	Collection        string
	CollectionCreated bool
	User              string
	UserAction        UserAction
	Verified          bool
	Duration          time.Duration
}

// Bootstrapper provisions one database, one collection and one application user.
type Bootstrapper struct {
	dialer storage.Dialer
	in     Inputs
	opts   Options
	logger *zap.SugaredLogger
}

// New creates a Bootstrapper; in must be fully resolved (see LoadInputs).
func New(dialer storage.Dialer, in Inputs, opts Options, sugar *zap.SugaredLogger) *Bootstrapper {
	if opts.RetryDelays == nil {
		opts.RetryDelays = DefaultRetryDelays
	}
	if opts.ConnectRetries < 0 {
		opts.ConnectRetries = 0
	}
	return &Bootstrapper{
		dialer: dialer,
		in:     in,
		opts:   opts,
		logger: sugar,
	}
}

func (b *Bootstrapper) newResult() *Result {
	return &Result{
		RunID:      uuid.NewString(),
		Database:   b.in.Database,
		Collection: b.in.Collection,
		User:       b.in.AppUser,
	}
}

// Run authenticates as admin, ensures the collection and the application user exist,
// then authenticates as the application user. The steps run strictly in that order and
// the first failure stops the run. The returned Result is non-nil even on error and
// describes the steps that completed.
func (b *Bootstrapper) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := b.newResult()
	log := b.logger.With("run_id", result.RunID)

	err := b.run(ctx, result, log)

	result.Duration = time.Since(start)
	metrics.RecordRun(err == nil, time.Now())
	if err != nil {
		log.Errorw("Bootstrap failed", "error", err, "class", string(Classify(err)), "duration", result.Duration)
		return result, err
	}

	log.Infow("Bootstrap complete",
		"database", result.Database,
		"collection", result.Collection,
		"collection_created", result.CollectionCreated,
		"user", result.User,
		"user_action", string(result.UserAction),
		"duration", result.Duration)
	return result, nil
}

func (b *Bootstrapper) run(ctx context.Context, result *Result, log *zap.SugaredLogger) error {
	log.Infow("Starting bootstrap",
		"database", b.in.Database,
		"collection", b.in.Collection,
		"user", b.in.AppUser,
		"conflict_policy", string(b.in.ConflictPolicy))

	var admin storage.Admin
	err := observe(StepAuthenticateAdmin, func() (string, error) {
		var err error
		admin, err = b.dialAdmin(ctx, log)
		return metrics.OutcomeSuccess, err
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := admin.Close(context.Background()); cerr != nil {
			log.Warnw("Failed to close admin session", "error", cerr)
		}
	}()

	err = observe(StepEnsureCollection, func() (string, error) {
		created, err := b.ensureCollection(ctx, admin, log)
		result.CollectionCreated = created
		if !created {
			return metrics.OutcomeNoop, err
		}
		return metrics.OutcomeSuccess, err
	})
	if err != nil {
		return err
	}

	err = observe(StepEnsureUser, func() (string, error) {
		action, err := b.ensureUser(ctx, admin, log)
		result.UserAction = action
		if err == nil {
			metrics.UserActions.WithLabelValues(string(action)).Inc()
		}
		if action == UserUnchanged {
			return metrics.OutcomeNoop, err
		}
		return metrics.OutcomeSuccess, err
	})
	if err != nil {
		return err
	}

	err = observe(StepVerifyUser, func() (string, error) {
		return metrics.OutcomeSuccess, b.verifyUser(ctx, log)
	})
	if err != nil {
		return err
	}
	result.Verified = true
	return nil
}

// Verify authenticates as the application user only; no administrative credential is needed.
func (b *Bootstrapper) Verify(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := b.newResult()
	log := b.logger.With("run_id", result.RunID)

	err := observe(StepVerifyUser, func() (string, error) {
		return metrics.OutcomeSuccess, b.verifyUser(ctx, log)
	})
	result.Duration = time.Since(start)
	if err != nil {
		log.Errorw("Verification failed", "error", err)
		return result, err
	}
	result.Verified = true
	return result, nil
}

// observe times fn and records its outcome; a non-nil error always counts as a failure.
func observe(step string, fn func() (string, error)) error {
	start := time.Now()
	outcome, err := fn()
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.ObserveStep(step, outcome, time.Since(start))
	return err
}

// dialAdmin opens the administrative session. Transport failures are retried with the
// configured delays; an authentication failure is final.
func (b *Bootstrapper) dialAdmin(ctx context.Context, log *zap.SugaredLogger) (storage.Admin, error) {
	cred := b.in.AdminCredential()
	maxRetries := b.opts.ConnectRetries

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.retryDelay(attempt)
			log.Infow("Retrying MongoDB connection",
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", delay)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("connection retry aborted: %w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}

		metrics.ConnectAttempts.Inc()
		admin, err := b.dialer.Dial(ctx, cred)
		if err == nil {
			log.Infow("Authenticated as administrator", "user", cred.Username, "auth_source", cred.Source)
			return admin, nil
		}
		lastErr = err

		if storage.IsAuthError(err) {
			writeFatalBanner(b.opts.Stderr, "MongoDB Authentication Failed", ClassifyConnectionError(err, b.opts.Target))
			return nil, fmt.Errorf("%w as %s: %w", ErrAdminAuth, cred.Username, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connection aborted: %w (last error: %v)", ctx.Err(), err)
		}

		log.Warnw("MongoDB connection attempt failed",
			"attempt", attempt+1,
			"error", err)
	}

	writeFatalBanner(b.opts.Stderr, "MongoDB Connection Failed", ClassifyConnectionError(lastErr, b.opts.Target))
	return nil, fmt.Errorf("failed to connect to MongoDB after %d attempts: %w", maxRetries+1, lastErr)
}

func (b *Bootstrapper) retryDelay(attempt int) time.Duration {
	if len(b.opts.RetryDelays) == 0 {
		return 0
	}
	if attempt > len(b.opts.RetryDelays) {
		return b.opts.RetryDelays[len(b.opts.RetryDelays)-1]
	}
	return b.opts.RetryDelays[attempt-1]
}

// ensureCollection creates the collection when absent and reports whether it did.
func (b *Bootstrapper) ensureCollection(ctx context.Context, admin storage.Admin, log *zap.SugaredLogger) (bool, error) {
	db, coll := b.in.Database, b.in.Collection

	exists, err := admin.CollectionExists(ctx, db, coll)
	if err != nil {
		return false, err
	}
	if exists {
		log.Infow("Collection already exists", "database", db, "collection", coll)
		return false, nil
	}

	if err := admin.CreateCollection(ctx, db, coll); err != nil {
		// Another initializer created it between the check and the create
		if storage.IsNamespaceExists(err) {
			log.Infow("Collection created concurrently", "database", db, "collection", coll)
			return false, nil
		}
		return false, err
	}

	log.Infow("Collection created", "database", db, "collection", coll)
	return true, nil
}

// ensureUser creates the application user or reconciles an existing one per the conflict policy.
func (b *Bootstrapper) ensureUser(ctx context.Context, admin storage.Admin, log *zap.SugaredLogger) (UserAction, error) {
	db, user := b.in.Database, b.in.AppUser

	existing, err := admin.GetUser(ctx, db, user)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		err = admin.CreateUser(ctx, db, b.in.AppUserSpec())
		if err == nil {
			log.Infow("Application user created",
				"user", user,
				"database", db,
				"roles", formatRoles(b.in.AppUserSpec().Roles),
				"mechanism", b.in.AppMechanism)
			return UserCreated, nil
		}
		if !storage.IsUserExists(err) {
			return "", err
		}
		log.Infow("Application user created concurrently", "user", user, "database", db)
		existing, err = admin.GetUser(ctx, db, user)
		if err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}

	return b.reconcileUser(ctx, admin, existing, log)
}

func (b *Bootstrapper) reconcileUser(ctx context.Context, admin storage.Admin, existing *storage.UserInfo, log *zap.SugaredLogger) (UserAction, error) {
	db, user := b.in.Database, b.in.AppUser

	switch b.in.ConflictPolicy {
	case config.ConflictPolicyFail:
		return "", fmt.Errorf("%w: %s on %s", ErrUserExists, user, db)

	case config.ConflictPolicyUpdate:
		spec := b.in.AppUserSpec()
		if err := admin.UpdateUser(ctx, db, spec); err != nil {
			return "", err
		}
		log.Infow("Application user updated",
			"user", user,
			"database", db,
			"previous_roles", formatRoles(existing.Roles),
			"roles", formatRoles(spec.Roles))
		return UserUpdated, nil

	default:
		if outside := rolesOutsideDB(existing.Roles, db); len(outside) > 0 {
			return "", fmt.Errorf("%w: %s on %s holds %v", ErrRoleScope, user, db, formatRoles(outside))
		}
		if !rolesEqual(existing.Roles, b.in.AppUserSpec().Roles) {
			log.Warnw("Application user exists with different roles; leaving unchanged",
				"user", user,
				"database", db,
				"roles", formatRoles(existing.Roles))
		} else {
			log.Infow("Application user already exists", "user", user, "database", db)
		}
		return UserUnchanged, nil
	}
}

// verifyUser opens a fresh session as the application user and checks connectionStatus.
func (b *Bootstrapper) verifyUser(ctx context.Context, log *zap.SugaredLogger) error {
	cred := b.in.AppCredential()

	session, err := b.dialer.Dial(ctx, cred)
	if err != nil {
		return fmt.Errorf("%w: %s@%s: %w", ErrVerification, cred.Username, cred.Source, err)
	}
	defer func() {
		if cerr := session.Close(context.Background()); cerr != nil {
			log.Warnw("Failed to close verification session", "error", cerr)
		}
	}()

	status, err := session.ConnectionStatus(ctx, cred.Source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if !status.IsAuthenticatedAs(cred.Username, cred.Source) {
		return fmt.Errorf("%w: session is not authenticated as %s@%s", ErrVerification, cred.Username, cred.Source)
	}

	log.Infow("Authenticated as application user", "user", cred.Username, "database", cred.Source)
	return nil
}
