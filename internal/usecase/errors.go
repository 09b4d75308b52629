package usecase

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrConfigMissing         = errors.New("channel configuration missing")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
