package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Reaction type validation
	validate.RegisterValidation("reaction", func(fl validator.FieldLevel) bool {
		typ := fl.Field().String()
		validTypes := []string{"like", "heart", "haha", "sad", "angry", "fire"}
		for _, t := range validTypes {
			if typ == t {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns field errors keyed by JSON name
func Validate(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		errors["_"] = err.Error()
		return errors
	}

	for _, fieldErr := range validationErrors {
		errors[fieldErr.Field()] = messageForTag(fieldErr)
	}
	return errors
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Value is too long (max " + fe.Param() + ")"
	case "min":
		return "Value is too short (min " + fe.Param() + ")"
	case "reaction":
		return "Must be one of: like, heart, haha, sad, angry, fire"
	default:
		return "Invalid value"
	}
}
