package insight

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
)

func reflectionValidator() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		translator, _ = uni.GetTranslator("en")

		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(validate, translator)
	})
	return validate, translator
}

// ValidateReflection checks a reflection before ingest. The first failing
// field is reported as a *ValidationError.
func ValidateReflection(r *blackboard.Reflection) error {
	if r == nil {
		return &ValidationError{Reason: "reflection is required"}
	}

	v, trans := reflectionValidator()
	if err := v.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Field(), Reason: verrs[0].Translate(trans)}
		}
		return &ValidationError{Reason: err.Error()}
	}

	if strings.TrimSpace(r.Author) == "" {
		return &ValidationError{Field: "author", Reason: "author cannot be blank"}
	}
	if strings.TrimSpace(r.Pain) == "" {
		return &ValidationError{Field: "pain", Reason: "pain cannot be blank"}
	}
	for _, tag := range r.Tags {
		if strings.TrimSpace(tag) == "" {
			return &ValidationError{Field: "tags", Reason: "tags cannot contain empty entries"}
		}
	}
	return nil
}
