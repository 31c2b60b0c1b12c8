package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Campaign engine errors
	ErrCampaignInactive    = errors.New("campaign is inactive")
	ErrNoSnapshot          = errors.New("campaign missing and job carries no snapshot")
	ErrUnknownCampaignKind = errors.New("unknown campaign kind")
	ErrLockNotAcquired     = errors.New("lock not acquired")
)
