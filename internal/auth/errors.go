package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike;
	// callers must not be able to tell which factor failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountNotActive   = errors.New("auth: account not active")
	ErrTokenInvalid       = errors.New("auth: token expired or revoked")
	ErrTenantNotActive    = errors.New("auth: tenant not active")
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidInput       = errors.New("auth: invalid input")
)
