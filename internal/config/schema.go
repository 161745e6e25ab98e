package config

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
	schemareflector "github.com/swaggest/jsonschema-go"

	ext_config "github.com/datasetsync/hfsync/config"
)

var rootSchema *jsonschema.Schema

func init() {
	js, err := jsonschema.UnmarshalJSON(bytes.NewReader(ext_config.Schema()))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)
	if err := compiler.AddResource("schema.json", js); err != nil {
		panic(err)
	}

	rootSchema, err = compiler.Compile("schema.json")
	if err != nil {
		panic(err)
	}
}

func ReflectSchema() ([]byte, error) {
	reflector := schemareflector.Reflector{}

	s, err := reflector.Reflect(Root{})
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(s, "", "  ")
}

func (Duration) PrepareJSONSchema(schema *schemareflector.Schema) error {
	schema.Type = nil
	schema.AddType(schemareflector.String)
	return nil
}

func (*SecretRef) PrepareJSONSchema(schema *schemareflector.Schema) error {
	schema.Type = nil
	schema.AddType(schemareflector.String)
	return nil
}

// We do this so that the following YAML config is considered valid:
//
//	syncs:
//	  data:
//	    ...
//	    clean:
//
// An empty clean block keeps the default patterns.
func (*Clean) PrepareJSONSchema(schema *schemareflector.Schema) error {
	schema.AddType(schemareflector.Null)
	return nil
}
