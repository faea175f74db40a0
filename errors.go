package backlog

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("backlog: no store configured")
	ErrStoreClosed = errors.New("backlog: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("backlog: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("backlog: job already exists")

	// Lease errors.
	ErrLeaseSettled = errors.New("backlog: lease already acknowledged or released")
)
