package store

import "errors"

var (
	ErrEntryNotFound   = errors.New("entry not found")
	ErrPatientActive   = errors.New("patient already queued")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)
