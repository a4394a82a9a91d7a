// Package validation wraps a shared go-playground validator and turns its
// errors into short messages suitable for CLI output and HTTP responses.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their wire name (json, then yaml) rather than the Go name.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "yaml", "csv"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
}

// FieldError describes the first rule a value violated.
type FieldError struct {
	Field string
	Rule  string
	Param string
}

func (e *FieldError) Error() string {
	switch e.Rule {
	case "required", "required_if", "required_with":
		return fmt.Sprintf("%s: field is required", e.Field)
	case "min", "gte":
		return fmt.Sprintf("%s: must be at least %s", e.Field, e.Param)
	case "max", "lte":
		return fmt.Sprintf("%s: must not exceed %s", e.Field, e.Param)
	case "gt", "gtfield":
		return fmt.Sprintf("%s: must be greater than %s", e.Field, e.Param)
	case "lt":
		return fmt.Sprintf("%s: must be less than %s", e.Field, e.Param)
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", e.Field, e.Param)
	case "url", "http_url":
		return fmt.Sprintf("%s: must be a valid URL", e.Field)
	case "hostname_port":
		return fmt.Sprintf("%s: must be host:port", e.Field)
	case "dive":
		return fmt.Sprintf("%s: invalid element", e.Field)
	default:
		return fmt.Sprintf("%s: validation failed (%s)", e.Field, e.Rule)
	}
}

// Struct validates v against its `validate` tags and returns a *FieldError
// for the first violation.
func Struct(v any) error {
	if v == nil {
		return errors.New("validation: nil value")
	}
	return formatValidationError(validate.Struct(v))
}

// Var validates a single value against a tag expression.
func Var(field string, v any, tag string) error {
	err := validate.Var(v, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &FieldError{Field: field, Rule: verrs[0].Tag(), Param: verrs[0].Param()}
	}
	return err
}

func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	e := verrs[0]
	field := e.Namespace()
	// Drop the root type name: "Config.pipeline.top_n" -> "pipeline.top_n".
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	return &FieldError{Field: field, Rule: e.Tag(), Param: e.Param()}
}
