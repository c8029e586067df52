package service

import (
	"errors"

	"avatar-api/internal/oauth"
)

var (
	ErrInvalidCredential = oauth.ErrInvalidCredential
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInternal          = errors.New("internal error")
)

// Motivos internos de rechazo del gate. Solo van a logs y métricas.
const (
	ReasonMissingHeaders  = "missing_headers"
	ReasonBadSignature    = "bad_signature"
	ReasonExpired         = "expired"
	ReasonUnknownIdentity = "unknown_identity"
	ReasonInactive        = "inactive"
	ReasonStoreError      = "store_error"
)

// GateError acompaña un rechazo con su motivo interno.
// Unwrap devuelve ErrUnauthenticated o ErrInternal.
type GateError struct {
	Reason string
	Err    error
}

func (e *GateError) Error() string { return e.Err.Error() + " (" + e.Reason + ")" }

func (e *GateError) Unwrap() error { return e.Err }
