package bootstrap

import (
	"context"
	"errors"

	"mongoinit/config"
	"mongoinit/storage"
	"mongoinit/util"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrConfig wraps every failure to resolve settings or secrets
	ErrConfig = errors.New("configuration error")

	// ErrAdminAuth is returned when the administrative credential is rejected
	ErrAdminAuth = errors.New("administrative authentication failed")

	// ErrUserExists is returned under the fail conflict policy
	ErrUserExists = errors.New("application user already exists")

	// ErrRoleScope is returned when an existing application user holds roles outside the target database
	ErrRoleScope = errors.New("application user has roles outside the target database")

	// ErrVerification is returned when the application user cannot authenticate after provisioning
	ErrVerification = errors.New("application user verification failed")
)

// Class groups errors by how an operator has to react to them
type Class string

const (
	ClassNone         Class = ""
	ClassConfig       Class = "config"
	ClassAuth         Class = "auth"
	ClassConflict     Class = "conflict"
	ClassVerification Class = "verification"
	ClassTransport    Class = "transport"
	ClassInternal     Class = "internal"
)

// Classify maps an error returned by this package to its Class
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrConfig),
		errors.Is(err, config.ErrMissingSetting),
		errors.Is(err, config.ErrInvalidSetting),
		errors.Is(err, config.ErrSecretNotFound),
		errors.Is(err, config.ErrEmptySecret),
		errors.Is(err, config.ErrUnsupportedProvider),
		errors.Is(err, util.ErrWeakPassword):
		return ClassConfig
	case errors.Is(err, ErrUserExists), errors.Is(err, ErrRoleScope):
		return ClassConflict
	case errors.Is(err, ErrVerification):
		return ClassVerification
	case errors.Is(err, ErrAdminAuth), storage.IsAuthError(err), storage.IsUnauthorized(err):
		return ClassAuth
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		mongo.IsNetworkError(err),
		mongo.IsTimeout(err):
		return ClassTransport
	default:
		return ClassInternal
	}
}

// ExitCode returns the process exit status for err
func ExitCode(err error) int {
	switch Classify(err) {
	case ClassNone:
		return 0
	case ClassConfig:
		return 2
	case ClassAuth:
		return 3
	case ClassConflict:
		return 4
	default:
		return 1
	}
}
