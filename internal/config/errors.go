package config

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a credential or setting that is missing or still
// holds a placeholder value. It is raised before any git invocation.
type ConfigurationError struct {
	Key    string // Environment variable or secret field.
	Secret string // Secret name, empty for environment keys.
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Secret != "" {
		return fmt.Sprintf("secret %q: %s: %s", e.Secret, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
