package storage

import "errors"

var (
	// ErrDuplicateKey indicates an insert of a row that already exists
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrRowNotFound indicates an update of a row that does not exist
	ErrRowNotFound = errors.New("storage: row not found")

	// ErrInvalidPayload indicates a row that cannot be written as given
	ErrInvalidPayload = errors.New("storage: invalid payload")

	// ErrTxDone indicates use of a committed or rolled back transaction
	ErrTxDone = errors.New("storage: transaction already finished")
)
