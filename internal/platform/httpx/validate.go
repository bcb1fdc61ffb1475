package httpx

import (
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Validate runs struct validation and reports the first failing field as a
// *shared.ValidationError.
func Validate(v *validator.Validate, payload any) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		return shared.NewValidationError(fieldErrs[0].Field(), fieldErrs[0].Tag())
	}
	return shared.NewValidationError("", err.Error())
}
