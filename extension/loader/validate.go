package loader

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ncobase/hostkit/extension/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report yaml field names instead of Go field names
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var errorMessages = map[string]string{
	"required":    "the field '%s' is required",
	"max":         "the field '%s' must be no longer than %s characters",
	"oneof":       "the field '%s' must be one of %s",
	"excludesall": "the field '%s' must not contain '%s'",
}

func parseMessage(e validator.FieldError) string {
	field := e.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	if msg, ok := errorMessages[e.Tag()]; ok {
		if strings.Count(msg, "%s") == 2 {
			return fmt.Sprintf(msg, field, e.Param())
		}
		return fmt.Sprintf(msg, field)
	}
	return fmt.Sprintf("field '%s' is invalid: %s", field, e.Tag())
}

// ValidateDescriptor checks the struct rules of a descriptor and the
// name rules shared with the resolver
func ValidateDescriptor(desc *types.Descriptor) error {
	if desc == nil {
		return fmt.Errorf("%w: descriptor is nil", types.ErrInvalidDescriptor)
	}

	if err := validate.Struct(desc); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", types.ErrInvalidDescriptor, err)
		}
		messages := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			messages = append(messages, parseMessage(fe))
		}
		sort.Strings(messages)
		return fmt.Errorf("%w: %s", types.ErrInvalidDescriptor, strings.Join(messages, "; "))
	}

	if strings.Contains(desc.Name, " ") {
		return fmt.Errorf("%w: %q contains spaces", types.ErrInvalidName, desc.Name)
	}
	return nil
}
