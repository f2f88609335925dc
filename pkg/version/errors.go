package version

import "errors"

var (
	// ErrEntityNotFound indicates a fork of an entity missing from the live version
	ErrEntityNotFound = errors.New("version: entity not found")

	// ErrLiveVersion indicates an attempt to merge the live version into itself
	ErrLiveVersion = errors.New("version: live version cannot be merged")
)
