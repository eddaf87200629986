package services

import "errors"

var (
	// ErrNotFound is returned when an account, wallet, secret or price is unknown.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating something that exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument is returned for empty or malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)
