package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates a malformed identifier or constraint violation.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrInvalidTransition indicates an attempt state change was rejected because
// the attempt already reached a terminal state.
var ErrInvalidTransition = errors.New("repository: invalid state transition")
