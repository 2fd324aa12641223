package ledger

import "errors"

var (
	// ErrAccountNotFound means the requested ledger account does not exist.
	ErrAccountNotFound = errors.New("ledger account not found")

	// ErrPrerequisiteMissing means a dependent account (escrow, token
	// account, shares mint) has not been initialized yet.
	ErrPrerequisiteMissing = errors.New("prerequisite account missing")

	// ErrBadAccountData means account bytes did not match the expected layout.
	ErrBadAccountData = errors.New("malformed account data")
)
