package domain

import (
	"errors"
	"fmt"
)

// ErrTransientIO marks record store communication failures (network, auth,
// unexpected HTTP status). The orchestration loop retries these.
var ErrTransientIO = errors.New("transient record store error")

// ConfigError reports an invalid configuration detected before the loop starts
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// IsConfigError reports whether err is (or wraps) a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// Transient wraps err so that errors.Is(err, ErrTransientIO) holds
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientIO, err)
}
