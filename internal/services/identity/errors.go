package identity

import (
	"errors"
	"fmt"
)

var (
	ErrAuthClosed            = errors.New("identity: auth client closed")
	ErrInvalidProvider       = errors.New("identity: invalid auth provider")
	ErrPopupBlocked          = errors.New("identity: popup could not be opened")
	ErrPopupClosedByUser     = errors.New("identity: popup closed by user")
	ErrCancelledPopupRequest = errors.New("identity: popup request cancelled")
	ErrPopupTimeout          = errors.New("identity: popup timed out")
	ErrUnknownState          = errors.New("identity: unknown or expired sign-in state")
	ErrMissingCode           = errors.New("identity: callback is missing the authorization code")
)

// ProviderError is an error reported by the provider on the redirect callback.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("identity: provider returned %s", e.Code)
	}
	return fmt.Sprintf("identity: provider returned %s: %s", e.Code, e.Description)
}

// Unwrap maps access_denied to ErrPopupClosedByUser: the user dismissed the
// consent screen.
func (e *ProviderError) Unwrap() error {
	if e.Code == "access_denied" {
		return ErrPopupClosedByUser
	}
	return nil
}
