// Package validator wraps go-playground/validator with English translations
// for the portal's request payloads. Both the client (pre-flight checks
// before a request leaves the tab) and the dev stub server use it.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once     sync.Once
	validate *govalidator.Validate
	trans    ut.Translator
)

// setup builds the singleton validator with JSON tag field names and
// English translations.
func setup() {
	validate = govalidator.New()

	// Use JSON tag name for field names in error messages.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, trans)
}

// Struct validates v against its `validate` tags. Returns nil on success,
// or a map of field name → human-readable message.
func Struct(v interface{}) map[string]string {
	once.Do(setup)

	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	return TranslateErrors(err)
}

// TranslateErrors converts a validation error into a field → message map.
// Non-validation errors (e.g. JSON syntax errors) collapse to one "detail"
// entry.
func TranslateErrors(err error) map[string]string {
	once.Do(setup)
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}
