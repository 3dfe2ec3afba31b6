package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and broker layers return
// these (optionally wrapped) so services and transports can translate them
// into responses without knowing the backing implementation.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in store
// - ErrConflict: insert collided with an existing unique key
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: broker or store temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
