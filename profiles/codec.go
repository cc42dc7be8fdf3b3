package profiles

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
)

//go:embed schema/profile.schema.json
var profileSchemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func profileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiledSchema, schemaErr = compiler.Compile(profileSchemaJSON)
	})
	return compiledSchema, schemaErr
}

// Encode returns the RFC 8785 canonical JSON form of a profile. Equal profiles
// always encode to equal bytes, which is what cache change detection relies on.
func Encode(p *Profile) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("[profiles Encode] %w", err)
	}
	return jcs.Transform(raw)
}

// Decode reads a profile previously written by Encode.
func Decode(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("[profiles Decode] %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("[profiles Decode] profile has no id")
	}
	return &p, nil
}

// DecodeRemote validates a backend payload against the profile schema before
// decoding it. Schema failures wrap ErrValidation.
func DecodeRemote(data []byte) (*Profile, error) {
	schema, err := profileSchema()
	if err != nil {
		return nil, fmt.Errorf("[profiles DecodeRemote] compile schema: %w", err)
	}
	if result := schema.ValidateJSON(data); !result.IsValid() {
		return nil, fmt.Errorf("[profiles DecodeRemote] %w: %v", errors.ErrValidation, result.Errors)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrValidation, "%s", err.Error())
	}
	p.Normalize()
	return p, nil
}
