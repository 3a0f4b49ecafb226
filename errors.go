package daemonocle

import "fmt"

// ConfigError reports a programmer mistake: no worker defined, an action
// that requires a pid file without one configured, an invalid action name,
// or an environment-setup step that cannot be applied as configured. These
// are raised synchronously to the caller and never retried.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string { return e.Message }

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// EnvironmentError reports a platform or environment limitation distinct
// from a logic bug: open descriptors that cannot be enumerated, a chroot
// without a null device.
type EnvironmentError struct {
	Message string
	Err     error
}

func (e *EnvironmentError) Error() string { return e.Message }

func (e *EnvironmentError) Unwrap() error { return e.Err }
