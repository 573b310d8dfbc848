package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a named JSON Schema compiled on first use.
type Schema struct {
	Name    string
	Doc     map[string]any
	Numeric []string // keys Sanitize may coerce from string to number

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

func NewSchema(name string, doc map[string]any, numeric ...string) *Schema {
	return &Schema{Name: name, Doc: doc, Numeric: numeric}
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		b, err := json.Marshal(s.Doc)
		if err != nil {
			s.err = fmt.Errorf("marshal schema: %w", err)
			return
		}
		url := s.Name + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
			s.err = fmt.Errorf("add schema: %w", err)
			return
		}
		s.compiled, s.err = compiler.Compile(url)
		if s.err != nil {
			s.err = fmt.Errorf("compile schema: %w", s.err)
		}
	})
	return s.compiled, s.err
}

// Validate validates data against the schema.
func (s *Schema) Validate(data []byte) error {
	schema, err := s.compile()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
