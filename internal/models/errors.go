package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrInvalidTransition  = errors.New("invalid call status transition")
	ErrDuplicateReference = errors.New("reference already used with different parameters")
	ErrBalanceConflict    = errors.New("balance changed since it was read")
	ErrInvalidAmount      = errors.New("amount must be positive with at most 4 decimal places")
	ErrInvalidRole        = errors.New("role must be admin or user")
	ErrInvalidStatus      = errors.New("unknown call status")
	ErrAccountDisabled    = errors.New("account not active")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidFilter      = errors.New("invalid filter")
	ErrUpstream           = errors.New("voice provider unavailable")

	// ErrStorage matches any *StorageError via errors.Is.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps a persistence failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
