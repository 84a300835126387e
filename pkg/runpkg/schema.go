package runpkg

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed metadata.schema.json
var metadataSchemaJSON []byte

var (
	metadataSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

// compileSchema compiles the embedded metadata schema once.
func compileSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(metadataSchemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal metadata schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()

		if err := compiler.AddResource("metadata.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add metadata schema resource: %w", err)
			return
		}

		metadataSchema, err = compiler.Compile("metadata.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile metadata schema: %w", err)
			return
		}
	})

	return compileErr
}

// ValidateMetadata checks raw labrat.json bytes against the metadata schema.
func ValidateMetadata(data []byte) error {
	if err := compileSchema(); err != nil {
		return err
	}

	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := metadataSchema.Validate(v); err != nil {
		return fmt.Errorf("metadata validation failed: %w", err)
	}

	return nil
}
