package queue

import "errors"

var (
	ErrTenantRequired  = errors.New("tenant id required")
	ErrInvalidPriority = errors.New("invalid priority")
)
