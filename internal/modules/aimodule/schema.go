package aimodule

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// metadataSchemaJSON is the contract for AI backend responses. Anything
// that fails validation is treated as a backend fault and triggers the
// derived-title fallback rather than polluting the catalog.
const metadataSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["title"],
	"properties": {
		"title":       {"type": "string", "minLength": 1, "maxLength": 200},
		"description": {"type": "string", "maxLength": 2000},
		"tags": {
			"type": "array",
			"maxItems": 32,
			"items": {"type": "string", "minLength": 1, "maxLength": 48}
		},
		"category":   {"type": "string", "maxLength": 64},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

var metadataSchema = mustCompileSchema(metadataSchemaJSON)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("metadata.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("metadata.json")
}
