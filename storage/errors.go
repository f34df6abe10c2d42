package storage

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// Storage error constants
var (
	// ErrUserNotFound is returned when usersInfo reports no matching user
	ErrUserNotFound = errors.New("user not found")

	// ErrAuthenticationFailed is returned when the server rejects a credential
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSessionClosed is returned when a command is issued on a closed session
	ErrSessionClosed = errors.New("admin session is closed")
)

// MongoDB server error codes the bootstrap sequence reacts to.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeNamespaceExists      = 48
	codeUserAlreadyExists    = 51003
)

func hasErrorCode(err error, code int) bool {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.HasErrorCode(code)
	}
	return false
}

// IsAuthError reports whether err is a rejected credential rather than a transport failure.
// Handshake failures are not always surfaced as server errors, so the message is checked too.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthenticationFailed) || hasErrorCode(err, codeAuthenticationFailed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "auth error") ||
		strings.Contains(msg, "unable to authenticate")
}

// IsUnauthorized reports whether the authenticated user lacks the privilege for a command.
func IsUnauthorized(err error) bool {
	return hasErrorCode(err, codeUnauthorized)
}

// IsNamespaceExists reports whether a createCollection lost a race with another creator.
func IsNamespaceExists(err error) bool {
	return hasErrorCode(err, codeNamespaceExists)
}

// IsUserExists reports whether a createUser found the user already present.
func IsUserExists(err error) bool {
	if hasErrorCode(err, codeUserAlreadyExists) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "already exists") && strings.Contains(err.Error(), "User")
}
