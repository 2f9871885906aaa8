package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const MaxUsernameLength = 64

// botSuffix marks GitHub App bot accounts, e.g. "dependabot[bot]".
const botSuffix = "[bot]"

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")

// User is a platform account known to the ledger. Created lazily on first reference.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeUsername strips a single leading '@'. No other normalization is applied.
func NormalizeUsername(name string) string {
	return strings.TrimPrefix(name, "@")
}

// ValidateUsername checks that a username is 1-64 ASCII alphanumeric, underscore,
// or hyphen characters, optionally followed by "[bot]".
func ValidateUsername(name string) error {
	base := strings.TrimSuffix(name, botSuffix)
	if len(base) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range base {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
