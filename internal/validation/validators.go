package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/benvon/letmeask/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()
}

// MissingFields returns the struct field names that failed validation.
// A nil or non-validation error yields nil.
func MissingFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fields
}

// ValidateUser checks the User invariants: Name and Avatar must be present.
func ValidateUser(u *models.User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	if err := Validate.Struct(u); err != nil {
		if fields := MissingFields(err); len(fields) > 0 {
			return fmt.Errorf("missing fields: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}
