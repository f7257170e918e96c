package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://terraflow.ai/schemas/"

var inboundSchemas = map[string]string{
	TypeHello:     "hello.schema.json",
	TypeViewport:  "viewport.schema.json",
	TypeWorld:     "world.schema.json",
	TypeTileQuery: "tile_query.schema.json",
}

// Validator checks inbound viewer messages against the embedded schemas.
// It is safe for concurrent use.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	ents, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range ents {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}
	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for typ, name := range inboundSchemas {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate checks raw against the schema registered for typ.
func (v *Validator) Validate(typ string, raw []byte) error {
	s, ok := v.schemas[typ]
	if !ok {
		return fmt.Errorf("unknown message type %q", typ)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
