package accesscontrol

import "errors"

var (
	ErrAlreadyInitialized = errors.New("accesscontrol: already initialized")
	ErrNotInitialized     = errors.New("accesscontrol: not initialized")
	ErrUnauthorized       = errors.New("accesscontrol: unauthorized")
	ErrAlreadyRegistered  = errors.New("accesscontrol: entity already registered")
	ErrNotFound           = errors.New("accesscontrol: not found")
	ErrInvalidParameter   = errors.New("accesscontrol: invalid parameter")
)

// outcome es el label de métricas para el resultado de una operación.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid"
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrAlreadyInitialized):
		return "conflict"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	default:
		return "error"
	}
}
