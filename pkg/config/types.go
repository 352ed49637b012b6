package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Tensibai/si/pkg/schema"
)

// ParsedDefinitions is the result of loading schema definitions from CUE sources.
type ParsedDefinitions struct {
	// Definitions are the schema definitions found, ordered by name.
	Definitions []schema.Definition `json:"definitions"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the sources were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists parse and validation errors. Definitions with errors are left out.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err folds Errors into one error, or returns nil.
func (pd *ParsedDefinitions) Err() error {
	if len(pd.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(pd.Errors))
	for _, e := range pd.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("%d definition errors: %s", len(pd.Errors), strings.Join(msgs, "; "))
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "schemas.docker_image.props").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) Error() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		loc += e.Path + ": "
	}
	return loc + e.Message
}
