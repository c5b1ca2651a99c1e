// Package validator wraps struct validation for the API's request bodies.
package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates request payloads using the underlying validator
// library.
type Validator struct {
	cli *validator.Validate
}

// ValidationError describes one failed field, in the shape the API returns to
// clients.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New returns a ready-to-use Validator.
func New() *Validator {
	return &Validator{
		cli: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct validates s against its validate tags and returns one entry
// per failed field, nil when the struct is valid.
func (v *Validator) ValidateStruct(s interface{}) []ValidationError {
	err := v.cli.Struct(s)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

// Validate checks a single value against the given validation tag.
func (v *Validator) Validate(value interface{}, tag string) []ValidationError {
	err := v.cli.Var(value, tag)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

func (v *Validator) formatError(err error) []ValidationError {
	errs := make([]ValidationError, 0)
	for _, fe := range err.(validator.ValidationErrors) {
		errs = append(errs, ValidationError{
			Field:   fe.StructField(),
			Message: message(fe),
		})
	}
	return errs
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.StructField())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.StructField(), fe.Param())
	default:
		return fe.Error()
	}
}
