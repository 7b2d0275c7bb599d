// Package schemas provides JSON Schema validation for model output and persisted records.
package schemas

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// FeedbackSchema is the response format the model is asked to follow
//
//go:embed feedback.schema.json
var FeedbackSchema string

// RecordSchema describes the envelope of a persisted analysis record
//
//go:embed record.schema.json
var RecordSchema string

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

// DocumentError means the document could not be read as JSON at all
type DocumentError struct {
	Cause error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document is not valid JSON: %v", e.Cause)
}

func (e *DocumentError) Unwrap() error {
	return e.Cause
}

type compiled struct {
	once   sync.Once
	name   string
	source string
	schema *gojsonschema.Schema
	err    error
}

func (c *compiled) get() (*gojsonschema.Schema, error) {
	c.once.Do(func() {
		c.schema, c.err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(c.source))
		if c.err != nil {
			c.err = &SchemaLoadError{Path: c.name, Message: "invalid schema", Cause: c.err}
		}
	})
	return c.schema, c.err
}

var (
	feedbackSchema = &compiled{name: "feedback.schema.json", source: FeedbackSchema}
	recordSchema   = &compiled{name: "record.schema.json", source: RecordSchema}
)

// ValidateFeedback validates a JSON document against FeedbackSchema
func ValidateFeedback(jsonContent string) error {
	return validateCompiled(feedbackSchema, jsonContent)
}

// ValidateRecord validates a JSON document against RecordSchema
func ValidateRecord(jsonContent string) error {
	return validateCompiled(recordSchema, jsonContent)
}

func validateCompiled(c *compiled, jsonContent string) error {
	schema, err := c.get()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(jsonContent))
	if err != nil {
		return &DocumentError{Cause: err}
	}
	return toValidationError(result)
}

func toValidationError(result *gojsonschema.Result) error {
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
