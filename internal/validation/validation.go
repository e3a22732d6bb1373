// Package validation wraps go-playground/validator so struct tag failures
// come back as *ledger.ValidationError keyed by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"schoolattend/internal/ledger"
)

var (
	mobileTag   = "mobile"
	mobileRegex = regexp.MustCompile(`^[6-9][0-9]{9}$`)

	dateTag = "isodate"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	must(v.RegisterValidation(mobileTag, func(fl validator.FieldLevel) bool {
		return mobileRegex.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation(dateTag, func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("validation: register tag: %v", err))
	}
}

// Struct validates s and returns nil or a *ledger.ValidationError.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	vErr := &ledger.ValidationError{}
	for _, fe := range fieldErrs {
		vErr.Add(fieldName(fe), message(fe))
	}
	return vErr
}

// Var validates a single value against a tag expression.
func Var(field string, value any, tag string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	return ledger.Invalid(field, message(fieldErrs[0]))
}

func fieldName(fe validator.FieldError) string {
	// strip the top-level struct name: "Input.facePhotos[0]" -> "facePhotos[0]"
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_without":
		return fmt.Sprintf("required when %s is empty", lowerFirst(fe.Param()))
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("at least %s items required", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("at most %s items allowed", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "email":
		return "must be a valid email address"
	case mobileTag:
		return "must be a 10 digit mobile number"
	case dateTag:
		return "must be a date in YYYY-MM-DD format"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
