package account

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/walletgate/internal/model"
)

// SignupForm はサインアップ画面の入力。
type SignupForm struct {
	Name            string `json:"name" validate:"required,min=2"`
	Email           string `json:"email" validate:"required,contains=@"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	AcceptTerms     bool   `json:"acceptTerms" validate:"required"`
}

// LoginForm はログイン画面の入力。
type LoginForm struct {
	Email    string `json:"email" validate:"required,contains=@"`
	Password string `json:"password" validate:"required,min=6"`
}

// ResetForm はパスワード再設定の開始画面の入力。
type ResetForm struct {
	Email string `json:"email" validate:"required,contains=@"`
}

// PasswordChangeForm は新しいパスワードの入力。
type PasswordChangeForm struct {
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// fieldMessages はフィールドと検証タグごとの表示メッセージ。
var fieldMessages = map[string]string{
	"name":                     "Please enter your full name (at least 2 characters).",
	"email":                    "Please enter a valid email address.",
	"password":                 "Password must be at least 6 characters long.",
	"confirmPassword.required": "Please confirm your password.",
	"confirmPassword.eqfield":  "Passwords do not match.",
	"acceptTerms":              "Please agree to the Terms & Conditions.",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateForm はフォームを検証し、最初の違反を *model.APIError で返す。
func (s *Service) validateForm(form any) error {
	err := s.validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
	if !ok {
		msg, ok = fieldMessages[fe.Field()]
	}
	if !ok {
		msg = "Invalid " + fe.Field() + "."
	}
	return model.NewValidationError(fe.Field(), msg)
}
