// dispatch/errors.go
package dispatch

import (
	"errors"

	"github.com/partyround/backbone/models"
	"github.com/partyround/backbone/persistence"
)

var (
	ErrDuplicateRequest = errors.New("request already processed")
	ErrUnauthorized     = errors.New("sender does not hold the claimed role")
	ErrBadMessage       = errors.New("malformed message")
)

// ErrorCode maps a handler failure to the wire error code. Unknown errors
// collapse to INTERNAL so store internals never leak to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateRequest):
		return models.CodeDuplicateRequest
	case errors.Is(err, ErrUnauthorized):
		return models.CodeUnauthorized
	case errors.Is(err, ErrBadMessage):
		return models.CodeBadMessage
	case errors.Is(err, persistence.ErrInvalidState):
		return models.CodeInvalidState
	case errors.Is(err, persistence.ErrRoomNotFound), errors.Is(err, persistence.ErrPlayerNotFound), errors.Is(err, persistence.ErrGameNotAssigned):
		return models.CodeNotFound
	case errors.Is(err, persistence.ErrCodeSpaceExhausted):
		return models.CodeCapacityExhausted
	}
	return models.CodeInternal
}
