package connector

import "errors"

// Sentinel errors for the connector domain.
var (
	ErrNotFound    = errors.New("not found")
	ErrNotInstance = errors.New("not a connector database")
	ErrSpawn       = errors.New("spawn worker")
	ErrPoolClosed  = errors.New("pool closed")
)
