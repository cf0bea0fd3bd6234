// internal/schema/validator.go
// Package schema provides JSON schema validation for profile documents.
// Documents are validated before they are written so a malformed record never
// reaches the remote store.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Document collections with a registered schema
const (
	CollectionProfile  = "profile"
	CollectionFavorite = "favorite"
)

// profileSchema constrains the profile document. avatarRef is either absent,
// null or an absolute URI.
const profileSchema = `{
	"type": "object",
	"required": ["id", "displayName"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"displayName": {"type": "string", "maxLength": 64},
		"avatarRef": {"type": ["string", "null"], "format": "uri"},
		"updatedAt": {"type": "string"}
	}
}`

const favoriteSchema = `{
	"type": "object",
	"required": ["id", "imageRef", "isFavorite"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"imageRef": {"type": "string", "minLength": 1, "format": "uri"},
		"isFavorite": {"type": "boolean"},
		"revision": {"type": "integer", "minimum": 0},
		"updatedAt": {"type": "string"}
	}
}`

// Validator validates documents against JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of collection names to JSON schemas
}

// NewValidator creates a new schema validator with all collections loaded.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}

	if err := v.loadSchema(CollectionProfile, profileSchema); err != nil {
		return nil, fmt.Errorf("failed to load profile schema: %w", err)
	}
	if err := v.loadSchema(CollectionFavorite, favoriteSchema); err != nil {
		return nil, fmt.Errorf("failed to load favorite schema: %w", err)
	}

	return v, nil
}

// MustNewValidator is NewValidator for the embedded schemas, which are known to compile.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// loadSchema parses and compiles a JSON schema for a collection.
func (v *Validator) loadSchema(collection, schemaJSON string) error {
	loader := gojsonschema.NewStringLoader(schemaJSON)

	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", collection, err)
	}

	v.schemas[collection] = schema
	return nil
}

// Validate validates doc (any JSON-marshalable value) against the collection schema.
// Returns nil if valid, or an error listing every violation.
func (v *Validator) Validate(collection string, doc interface{}) error {
	schema, exists := v.schemas[collection]
	if !exists {
		return fmt.Errorf("schema not found for collection: %s", collection)
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(docJSON))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
