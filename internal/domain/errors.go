package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidSignal   = errors.New("invalid signal")
	ErrStaleSignal     = errors.New("signal too old")
	ErrDuplicateSignal = errors.New("duplicate signal")
	ErrRiskRejected    = errors.New("risk check rejected")
	ErrBoxedPosition   = errors.New("would create boxed position")
	ErrRateLimited     = errors.New("rate limited")
	ErrLockHeld        = errors.New("lock already held")
	ErrHalted          = errors.New("trading halted for session")
)
