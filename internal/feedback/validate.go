package feedback

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"
)

const (
	maxTokenLen = 128
	phoneRegion = "BR"
)

// validatorSvc holds the validator singleton and its translator.
type validatorSvc struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// validation returns the shared validator, configured on first use with
// english messages and json field names.
func validation() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("phone_br", func(fl validator.FieldLevel) bool {
			_, ok := NormalizePhone(fl.Field().String())
			return ok
		})
		registerMessage(v, trans, "phone_br", "{0} must be a Brazilian phone number with area code")
		registerMessage(v, trans, "oneof", "{0} must be one of: {1}")

		vSvc = &validatorSvc{validate: v, translator: trans}
	})
	return vSvc
}

func registerMessage(v *validator.Validate, trans ut.Translator, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, text, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			msg, _ := ut.T(tag, fe.Field(), fe.Param())
			return msg
		},
	)
}

// Validate checks a request struct and returns the first problem as a
// *ValidationError.
func Validate(req any) error {
	svc := validation()
	err := svc.validate.Struct(req)
	if err == nil {
		return nil
	}
	if inv, ok := err.(*validator.InvalidValidationError); ok {
		zap.L().Error("feedback: validator misuse", zap.Error(inv))
		return &ValidationError{Message: "malformed request"}
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: fe.Translate(svc.translator)}
	}
	return &ValidationError{Message: err.Error()}
}

// ValidateToken checks the opaque actor token for presence and length only.
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return &ValidationError{Field: "actor_token", Message: "actor_token is required"}
	case len(token) > maxTokenLen:
		return &ValidationError{Field: "actor_token", Message: "actor_token is too long"}
	}
	return nil
}

// NormalizePhone parses a Brazilian phone number and returns its national
// significant number: area code plus subscriber digits. Numbers that are not
// valid in BR, including unassigned area codes, are rejected.
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(raw, phoneRegion)
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumberForRegion(num, phoneRegion) {
		return "", false
	}
	return phonenumbers.GetNationalSignificantNumber(num), true
}
