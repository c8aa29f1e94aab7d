package credential

import "errors"

var (
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrBootstrapForbidden = errors.New("bootstrap not allowed: API keys already exist")
	ErrKeyNotFound        = errors.New("API key not found")
	ErrEmptyKeyName       = errors.New("key name cannot be empty")
)
