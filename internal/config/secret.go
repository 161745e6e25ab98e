package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/swaggest/jsonschema-go"

	"github.com/datasetsync/hfsync/internal/util"
)

// Secret defines the credentials used to reach upstream, target and mirror
// repositories.
//
// Each secret is stored as a map of key-value pairs. Secret type is also declared in the config.
// For example, a Hugging Face write token might look like this (in YAML):
//
// hf:
//
//	type: token_auth
//	username: alice
//	token: ${HF_TOKEN}
//
// Values written as ${VAR_NAME} are read from the credential environment: the
// process environment first, then the env file (see Environment). A reference
// to a variable that is set nowhere is a ConfigurationError. $$ stands for a
// literal $.
//
// Currently the following secret types are supported:
//
//   - "token_auth" for access tokens embedded in HTTPS remote URLs. Value for key "token" is expected,
//     "username" is optional and defaults to the owner segment of the repository path.
//   - "basic_auth" for HTTP basic authentication. Values for keys "username" and "password" are expected.
//   - "github_app_auth" for GitHub App authentication. Values for keys "integration_id", "installation_id",
//     and "private_key" (path to the PEM file) are expected.
type Secret struct {
	Name  string         `json:"-"`
	Value map[string]any `json:"-"`

	env *Environment
}

func (*Secret) PrepareJSONSchema(schema *jsonschema.Schema) error {
	schema.Type = nil
	schema.AddType(jsonschema.Object)
	return nil
}

func (s *Secret) MarshalYAML() (any, error) {
	if len(s.Value) == 0 {
		return map[string]any{}, nil
	}
	return s.Value, nil
}

func (s *Secret) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *Secret) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Value); err != nil {
		return fmt.Errorf("expected mapping node: %w", err)
	}
	return nil
}

func (s *Secret) UnmarshalJSON(bs []byte) error {
	return json.Unmarshal(bs, &s.Value)
}

func (s *Secret) Equal(other *Secret) bool {
	return util.FastEqual(s, other, func(s, other *Secret) bool {
		return s.Name == other.Name && reflect.DeepEqual(s.Value, other.Value)
	})
}

// get resolves ${VAR} references in string values against the credential
// environment.
func (s *Secret) get() (map[string]any, error) {
	value := make(map[string]any, len(s.Value))

	for k, v := range s.Value {
		switch v := v.(type) {
		case string:
			var missing []string
			value[k] = os.Expand(v, func(key string) string {
				if key == "$" {
					return "$"
				}
				val, ok := s.env.Lookup(key)
				if !ok {
					missing = append(missing, key)
				}
				return val
			})
			if len(missing) > 0 {
				return nil, &ConfigurationError{Key: missing[0], Secret: s.Name, Reason: "not set in environment or " + s.env.Source()}
			}
			if value[k] != v {
				// Literal values are checked per field in Typed.
				if err := checkPlaceholder(s.Name, v, value[k].(string)); err != nil {
					return nil, err
				}
			}
		default: // Keep non-string values as is
			value[k] = v
		}
	}

	return value, nil
}

// Resolve retrieves the secret value from the secret store. If the secret is not found, an error is returned.
// If the secret is found, it returns the typed value (SecretTokenAuth, SecretBasicAuth or SecretGitHubApp).
func (s *SecretRef) Resolve(ctx context.Context) (any, error) {
	if s.value == nil {
		return nil, fmt.Errorf("secret %q not found", s.Name)
	}

	return s.value.Typed(ctx)
}

func (s *Secret) Typed(context.Context) (any, error) {
	m, err := s.get() // Ensure values are resolved
	if err != nil {
		return nil, err
	}

	if len(m) == 0 {
		return nil, fmt.Errorf("secret %q is not configured", s.Name)
	}

	switch m["type"] {
	case "token_auth":
		var value SecretTokenAuth
		if err := decode(m, &value); err != nil {
			return nil, err
		}
		if err := requireValue(s.Name, "token", value.Token); err != nil {
			return nil, err
		}

		return value, nil

	case "basic_auth":
		var value SecretBasicAuth
		if err := decode(m, &value); err != nil {
			return nil, err
		}
		if err := requireValue(s.Name, "password", value.Password); err != nil {
			return nil, err
		}

		return value, nil

	case "github_app_auth":
		var value SecretGitHubApp
		if err := decode(m, &value); err != nil {
			return nil, err
		} else if value.IntegrationID == 0 || value.InstallationID == 0 || value.PrivateKey == "" {
			return nil, errors.New("missing integration_id, installation_id or private_key in GitHub App secret")
		}

		return value, nil

	default:
		return nil, fmt.Errorf("unknown secret type %q", s.Value["type"])
	}
}

type SecretTokenAuth struct {
	Username string `json:"username,omitempty"` // Optional, defaults to the repository owner.
	Token    string `json:"token"`
}

type SecretBasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SecretGitHubApp struct {
	IntegrationID  int64  `json:"integration_id"`
	InstallationID int64  `json:"installation_id"`
	PrivateKey     string `json:"private_key"` // Path to the private key PEM file.
}

func requireValue(secret, key, value string) error {
	if value == "" {
		return &ConfigurationError{Key: key, Secret: secret, Reason: "empty"}
	}
	if IsPlaceholder(value) {
		return &ConfigurationError{Key: key, Secret: secret, Reason: "still set to a placeholder value"}
	}
	return nil
}

func checkPlaceholder(secret, raw, expanded string) error {
	if expanded == "" {
		return &ConfigurationError{Key: raw, Secret: secret, Reason: "expands to an empty value"}
	}
	if IsPlaceholder(expanded) {
		return &ConfigurationError{Key: raw, Secret: secret, Reason: "still set to a placeholder value"}
	}
	return nil
}

// we use this one so we don't need duplicate tags on every struct
func decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		TagName:          "json",
		Metadata:         nil,
		Result:           output,
		WeaklyTypedInput: true,
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
