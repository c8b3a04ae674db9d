package policy

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func policyValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report yaml field names so errors match the config file.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks p without modifying it. Unlike Normalize it rejects
// negative values instead of clamping them.
func (p Policy) Validate() error {
	if err := policyValidator().Struct(p); err != nil {
		return newValidationError(err)
	}
	return nil
}
