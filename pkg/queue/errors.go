package queue

import "errors"

var (
	ErrStorageNil      = errors.New("queue storage cannot be nil")
	ErrPayloadNil      = errors.New("payload cannot be nil")
	ErrNoJob           = errors.New("no job ready to claim")
	ErrJobNotFound     = errors.New("job not found")
	ErrHandlerNotFound = errors.New("no handler registered for job")
	ErrNoHandlers      = errors.New("no job handlers registered")
	ErrAlreadyStarted  = errors.New("worker already started")
)
