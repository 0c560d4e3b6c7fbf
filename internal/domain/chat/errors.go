package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotAuthenticated = errors.New("no authenticated user")
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrInvalidReaction  = errors.New("unknown reaction type")
	ErrMessageNotFound  = errors.New("message not found")
)

// BanError rejects a send while the sender is suspended.
type BanError struct {
	Reason string
	EndsAt time.Time
}

func (e *BanError) Error() string {
	return fmt.Sprintf("user is banned until %s: %s", e.EndsAt.Format(time.RFC3339), e.Reason)
}

// AsBanError unwraps a BanError if err carries one.
func AsBanError(err error) (*BanError, bool) {
	var banErr *BanError
	if errors.As(err, &banErr) {
		return banErr, true
	}
	return nil, false
}
