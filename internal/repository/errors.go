package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateSecret is returned when a credential secret hash collides with an existing row.
	ErrDuplicateSecret = errors.New("repository: duplicate credential secret")
	// ErrAlreadyRevoked signals that a conditional revocation lost the race to another writer.
	ErrAlreadyRevoked = errors.New("repository: credential already revoked")
)
