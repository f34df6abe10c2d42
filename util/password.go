package util

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrWeakPassword is returned when a password does not satisfy the policy
	ErrWeakPassword = errors.New("password does not satisfy policy")

	controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	upperChars   = regexp.MustCompile(`[A-Z]`)
	lowerChars   = regexp.MustCompile(`[a-z]`)
	digitChars   = regexp.MustCompile(`[0-9]`)
	specialChars = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// PasswordPolicy defines password complexity requirements
type PasswordPolicy struct {
	MinLength      int // Minimum password length (default: 12)
	MaxLength      int // Maximum password length, 0 = unlimited
	RequireClasses int // Number of character classes required (default: 3 of 4)
}

// DefaultPasswordPolicy returns the default password policy
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:      12,
		MaxLength:      128,
		RequireClasses: 3,
	}
}

// containsUsername checks if password contains username or username variations
func containsUsername(password, username string) bool {
	if username == "" {
		return false
	}

	passwordLower := strings.ToLower(password)
	usernameLower := strings.ToLower(username)

	if strings.Contains(passwordLower, usernameLower) {
		return true
	}

	// Reversed username match
	return strings.Contains(passwordLower, reverseString(usernameLower))
}

// reverseString reverses a string
func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// countCharacterClasses returns how many of uppercase, lowercase, digits and special characters appear
func countCharacterClasses(password string) int {
	count := 0
	for _, class := range []*regexp.Regexp{upperChars, lowerChars, digitChars, specialChars} {
		if class.MatchString(password) {
			count++
		}
	}
	return count
}

// Validate checks if a password meets the policy requirements.
// Every error wraps ErrWeakPassword and never includes the password.
func (p *PasswordPolicy) Validate(password, username string) error {
	if password == "" {
		return fmt.Errorf("%w: password cannot be empty", ErrWeakPassword)
	}

	length := utf8.RuneCountInString(password)
	if length < p.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrWeakPassword, p.MinLength)
	}

	if p.MaxLength > 0 && length > p.MaxLength {
		return fmt.Errorf("%w: password must be no more than %d characters long", ErrWeakPassword, p.MaxLength)
	}

	if controlChars.MatchString(password) {
		return fmt.Errorf("%w: password contains control characters", ErrWeakPassword)
	}

	if countCharacterClasses(password) < p.RequireClasses {
		return fmt.Errorf("%w: password must contain at least %d of the following: uppercase letters, lowercase letters, digits, special characters", ErrWeakPassword, p.RequireClasses)
	}

	if containsUsername(password, username) {
		return fmt.Errorf("%w: password cannot contain username or username variations", ErrWeakPassword)
	}

	return nil
}
