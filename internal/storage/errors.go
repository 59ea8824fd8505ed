package storage

import "errors"

// Errors returned by the self-test history store
var (
	ErrNoPath           = errors.New("no history database path")
	ErrResultNotFound   = errors.New("self-test result not found")
	ErrDuplicateResult  = errors.New("self-test result already recorded")
	ErrIncompleteResult = errors.New("self-test result needs a run id and a machine id")
)
