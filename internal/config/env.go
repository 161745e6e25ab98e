package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/subosito/gotenv"
)

// placeholders are values shipped in example env files that must be replaced
// before a sync can authenticate.
var placeholders = []string{
	"your_actual_token_here",
	"your_token_here",
	"<your-token>",
	"changeme",
	"hf_xxx",
}

// IsPlaceholder reports whether v is an example value rather than a real
// credential.
func IsPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, p := range placeholders {
		if v == p {
			return true
		}
	}
	return false
}

// Environment is the credential environment: the process environment layered
// over the key-value pairs of an env file. Process variables win.
type Environment struct {
	path   string
	values gotenv.Env
	lookup func(string) (string, bool)
}

// LoadEnvironment reads the env file at path. A missing file yields an
// environment backed by the process environment alone.
func LoadEnvironment(path string) (*Environment, error) {
	env := &Environment{path: path, values: gotenv.Env{}, lookup: os.LookupEnv}
	if path == "" {
		return env, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return env, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to open env file %s: %w", path, err)
	}
	defer f.Close()

	values, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	env.values = values
	return env, nil
}

// NewEnvironment returns an environment over the given values, ignoring the
// process environment.
func NewEnvironment(values map[string]string) *Environment {
	return &Environment{values: values, lookup: func(string) (string, bool) { return "", false }}
}

// Lookup returns the value of key. A nil Environment reads the process
// environment only.
func (e *Environment) Lookup(key string) (string, bool) {
	if e == nil {
		return os.LookupEnv(key)
	}
	if v, ok := e.lookup(key); ok {
		return v, true
	}
	v, ok := e.values[key]
	return v, ok
}

// Require returns the value of key, failing with a ConfigurationError when it
// is unset, empty or a placeholder.
func (e *Environment) Require(key string) (string, error) {
	v, ok := e.Lookup(key)
	switch {
	case !ok:
		return "", &ConfigurationError{Key: key, Reason: "not set in environment or " + e.Source()}
	case strings.TrimSpace(v) == "":
		return "", &ConfigurationError{Key: key, Reason: "empty"}
	case IsPlaceholder(v):
		return "", &ConfigurationError{Key: key, Reason: "still set to a placeholder value, edit " + e.Source()}
	}
	return v, nil
}

// Source describes where values come from, for error messages.
func (e *Environment) Source() string {
	if e == nil || e.path == "" {
		return "env file"
	}
	return e.path
}
