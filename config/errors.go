package config

import "errors"

var (
	// ErrMissingSetting is returned when a required identifier is not configured
	ErrMissingSetting = errors.New("required setting is missing")

	// ErrInvalidSetting is returned when a setting fails validation
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrSecretNotFound is returned when a secret file, variable or key does not exist
	ErrSecretNotFound = errors.New("secret not found")

	// ErrEmptySecret is returned when a secret exists but holds no value
	ErrEmptySecret = errors.New("secret is empty")

	// ErrUnsupportedProvider is returned for an unknown secrets.provider
	ErrUnsupportedProvider = errors.New("unsupported secret provider")
)
