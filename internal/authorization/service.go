package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize checks whether a subject (user id or role name) may perform
	// an action on an object.
	Authorize(ctx context.Context, subject, object, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
