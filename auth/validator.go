package auth

import (
	"live-queue/errors"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type RegisterRequest struct {
	Name     string `validate:"required,max=50"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8,max=72"`
	Avatar   string `validate:"omitempty,url"`
}

func ValidateRegister(req RegisterRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}

	if !isPasswordComplex(req.Password) {
		return errors.ErrInvalidPassword
	}
	return nil
}

// isPasswordComplex requires at least one letter and one digit.
func isPasswordComplex(s string) bool {
	var hasLetter, hasNumber bool
	for _, char := range s {
		switch {
		case unicode.IsLetter(char):
			hasLetter = true
		case unicode.IsNumber(char):
			hasNumber = true
		}
	}
	return hasLetter && hasNumber
}
