package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/zoltan/internal/constants"
)

// Validator is the interface for validating configuration.
type Validator interface {
	Validate() error
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// Validate validates Config.
func (c *Config) Validate() error {
	var errors []ValidationError

	switch c.Frontend {
	case "", constants.FrontendCDecl, constants.FrontendManifest:
	default:
		errors = append(errors, ValidationError{
			Field:   "frontend",
			Message: fmt.Sprintf("frontend must be %q or %q", constants.FrontendCDecl, constants.FrontendManifest),
		})
	}

	switch c.DataModel {
	case constants.DataModelLLP64, constants.DataModelLP64, constants.DataModelILP32:
	default:
		errors = append(errors, ValidationError{
			Field:   "data_model",
			Message: fmt.Sprintf("data model must be %q, %q or %q", constants.DataModelLLP64, constants.DataModelLP64, constants.DataModelILP32),
		})
	}

	if c.Workers < 0 || c.Workers > constants.MaxWorkers {
		errors = append(errors, ValidationError{
			Field:   "workers",
			Message: fmt.Sprintf("workers must be between 0 and %d", constants.MaxWorkers),
		})
	}

	if c.Scan.AllSections && len(c.Scan.Sections) > 0 {
		errors = append(errors, ValidationError{
			Field:   "scan.sections",
			Message: "cannot list sections when all_sections is set",
		})
	}

	if c.Output.Go != "" && !isGoIdent(c.Output.GoPackage) {
		errors = append(errors, ValidationError{
			Field:   "output.go_package",
			Message: fmt.Sprintf("%q is not a valid Go package name", c.Output.GoPackage),
		})
	}

	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			errors = append(errors, ValidationError{
				Field:   "log.level",
				Message: "log level must be one of trace, debug, info, warn, error",
			})
		}
	}

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}

	return nil
}

// EffectiveWorkers returns the worker bound to use.
func (c *Config) EffectiveWorkers() int {
	if c.Workers <= 0 {
		return constants.DefaultWorkers
	}
	return c.Workers
}

func isGoIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
