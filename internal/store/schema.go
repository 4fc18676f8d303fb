package store

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://runboard.local/schemas/"

// Schema names, one per record kind.
const (
	SchemaTask     = "task"
	SchemaLock     = "lock"
	SchemaSession  = "session"
	SchemaMessage  = "message"
	SchemaAck      = "ack"
	SchemaArtifact = "artifact"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		names := []string{SchemaTask, SchemaLock, SchemaSession, SchemaMessage, SchemaAck, SchemaArtifact}
		c := jsonschema.NewCompiler()
		for _, name := range names {
			raw, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
			if err != nil {
				schemasErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
			if err != nil {
				schemasErr = fmt.Errorf("parse schema %s: %w", name, err)
				return
			}
			if err := c.AddResource(schemaBaseURL+name+".schema.json", doc); err != nil {
				schemasErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		compiled := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			sch, err := c.Compile(schemaBaseURL + name + ".schema.json")
			if err != nil {
				schemasErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			compiled[name] = sch
		}
		schemas = compiled
	})
	return schemas, schemasErr
}

// validateJSON checks encoded record bytes against the named schema.
func validateJSON(name string, data []byte) error {
	compiled, err := compileSchemas()
	if err != nil {
		return err
	}
	sch, ok := compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}

// ValidateRecord marshals v and validates it against the named schema.
func ValidateRecord(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return validateJSON(name, data)
}
