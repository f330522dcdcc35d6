package apiserver

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var jobIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

type ValidationRule struct {
	Rule func(v *validator.Validate)
}

// Validator wraps the go-playground validator with the rules of the job API.
type Validator struct {
	validator *validator.Validate
}

func NewValidator(rules ...ValidationRule) *Validator {
	v := validator.New()
	for _, r := range rules {
		r.Rule(v)
	}
	return &Validator{validator: v}
}

func (v *Validator) Struct(s any) error {
	return v.validator.Struct(s)
}

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) ValidationRule {
	return ValidationRule{
		Rule: func(v *validator.Validate) {
			_ = v.RegisterValidation(tag, fn)
		},
	}
}

func NewJobValidationRules() []ValidationRule {
	return []ValidationRule{
		registerFn("job_id", jobIDValidator),
	}
}

func jobIDValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return jobIDRegex.MatchString(val)
}
