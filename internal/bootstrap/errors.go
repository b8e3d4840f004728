package bootstrap

import "fmt"

// ConfigError reports an unusable property. It is raised before any engine
// is constructed.
type ConfigError struct {
	Key   string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bootstrap: property %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// InitError reports a failure while initializing the engine or deploying
// definitions. Phase is "init" or "deploy".
type InitError struct {
	Phase string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("bootstrap: %s: %v", e.Phase, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
