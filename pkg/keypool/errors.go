package keypool

import "errors"

var (
	// ErrInvalidConfiguration is returned when a pool is constructed without credentials
	ErrInvalidConfiguration = errors.New("invalid key pool configuration")

	// ErrPoolExhausted is returned when every credential is invalid or over quota
	ErrPoolExhausted = errors.New("all API keys exhausted or invalid")

	// ErrIndexOutOfRange is returned for a credential index outside the pool
	ErrIndexOutOfRange = errors.New("key index out of range")

	// ErrStoreUnavailable is returned when no counter store is configured
	ErrStoreUnavailable = errors.New("counter store unavailable")
)
