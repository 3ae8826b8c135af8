package utils

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator; gin's binding engine uses its own instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct runs `validate` tags on v and folds the first violation into a ValidationError.
func ValidateStruct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(fmt.Sprintf("%s failed on %s", fe.Namespace(), describeTag(fe)))
	}
	return err
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + strings.ReplaceAll(fe.Param(), " ", "|")
}

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errorResponse["error"] = err.Error()
		return errorResponse
	}
	for _, ve := range verrs {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
