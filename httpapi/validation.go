package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/MrEthical07/otpgate"
	"github.com/go-playground/validator/v10"
)

const passwordSpecials = "@$!%*?&"

type sendOTPRequest struct {
	Email string    `json:"email" validate:"required,otpemail"`
	OTP   looseCode `json:"otp" validate:"required,otp6"`
}

// looseCode takes the delivery code as a JSON string or number, so
// {"otp":123456} is read as "123456". Zero and null read as missing.
type looseCode string

func (c *looseCode) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = looseCode(s)
		return nil
	}
	if string(b) == "null" {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("otp must be a string or number: %w", err)
	}
	f, err := n.Float64()
	if err != nil {
		return err
	}
	if f == 0 {
		*c = ""
		return nil
	}
	*c = looseCode(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,max=128"`
	Email    string `json:"email" validate:"required,otpemail"`
	Password string `json:"password" validate:"required,min=8,strongpassword"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,otpemail"`
	Password string `json:"password" validate:"required"`
}

type verifyRequest struct {
	OTP       string `json:"otp" validate:"required,otp6"`
	Flow      string `json:"flow" validate:"required,oneof=signup login"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

type resendRequest struct {
	Flow      string `json:"flow" validate:"required,oneof=signup login"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// fieldMessages holds the user-facing text per json field and failed tag.
// A "" tag entry is the field's fallback.
var fieldMessages = map[string]map[string]string{
	"email": {
		"required": "Email is required",
		"":         "Invalid email format",
	},
	"otp": {
		"required": "OTP is required",
		"":         "Invalid OTP format. Must be 6 digits.",
	},
	"name": {
		"required": "Name is required",
		"":         "Name must be at most 128 characters",
	},
	"password": {
		"required": "Password is required",
		"min":      "Password must be at least 8 characters",
		"":         "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character",
	},
	"flow": {
		"": "flow must be signup or login",
	},
}

var customValidations = map[string]validator.Func{
	"otpemail": func(fl validator.FieldLevel) bool {
		return otpgate.ValidateDestination(strings.TrimSpace(fl.Field().String())) == nil
	},
	"otp6": func(fl validator.FieldLevel) bool {
		return otpgate.ValidateCode(fl.Field().String()) == nil
	},
	"strongpassword": func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	},
}

// newValidator panics if a custom tag cannot be registered.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	for tag, fn := range customValidations {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("httpapi: register validation %q: %v", tag, err))
		}
	}
	return v
}

// strongPassword requires one lowercase, one uppercase, one digit and one
// of @$!%*?&, and nothing outside those classes.
func strongPassword(p string) bool {
	var lower, upper, digit, special bool
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return false
		}
	}
	return lower && upper && digit && special && len(p) >= 8
}

// validationFailure turns the first validator error into a field and a
// message. Fields are reported in struct order, so "required" checks on
// earlier fields win.
func validationFailure(err error) (field, message string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "", "Invalid request body"
	}

	fe := verrs[0]
	field = fe.Field()
	if msgs, ok := fieldMessages[field]; ok {
		if msg, ok := msgs[fe.Tag()]; ok {
			return field, msg
		}
		return field, msgs[""]
	}
	return field, field + " is invalid"
}
