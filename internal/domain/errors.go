package domain

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidLevel     = errors.New("invalid stress level")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrDecoratorOff     = errors.New("decorator not configured")
	ErrTooManyHandles   = errors.New("too many connections for user")
	ErrRegistryStopped  = errors.New("connection registry stopped")
	ErrRegistryTimedOut = errors.New("connection registry command timed out")
)
