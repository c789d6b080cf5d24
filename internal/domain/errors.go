package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidTick   = errors.New("invalid tick")
	ErrStaleTick     = errors.New("stale tick")
	ErrNoGain        = errors.New("no favorable gain beyond entry")
	ErrAlreadyClosed = errors.New("position already closed")
	ErrPlanConfig    = errors.New("invalid plan configuration")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
)
