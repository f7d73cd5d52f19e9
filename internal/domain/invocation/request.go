package invocation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultUserID is used when a request carries no user identity.
const DefaultUserID = "default"

// DefaultMaxTurns bounds the agent's internal turns when the caller does not.
const DefaultMaxTurns = 50

// Request is one message submitted on behalf of a user.
type Request struct {
	Prompt           string `json:"prompt" validate:"required"`
	UserID           string `json:"user_id,omitempty" validate:"required,max=256"`
	WorkingDirectory string `json:"working_directory,omitempty" validate:"omitempty,dir"`
	MaxTurns         int    `json:"max_turns,omitempty" validate:"gte=1,lte=1000"`
	SystemPrompt     string `json:"system_prompt,omitempty"`
	ForceNewSession  bool   `json:"force_new_session,omitempty"`
	Model            string `json:"model,omitempty" validate:"omitempty,max=128,printascii"`
}

// Defaults fills in fields the caller left empty.
type Defaults struct {
	UserID           string
	WorkingDirectory string
	MaxTurns         int
	Model            string
}

// WithDefaults returns a copy of r with empty fields filled from d.
func (r Request) WithDefaults(d Defaults) Request {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		r.UserID = d.UserID
	}
	if r.UserID == "" {
		r.UserID = DefaultUserID
	}
	if r.WorkingDirectory == "" {
		r.WorkingDirectory = d.WorkingDirectory
	}
	if r.MaxTurns == 0 {
		r.MaxTurns = d.MaxTurns
	}
	if r.MaxTurns == 0 {
		r.MaxTurns = DefaultMaxTurns
	}
	if r.Model == "" {
		r.Model = d.Model
	}
	return r
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks r after defaults have been applied.
// Every returned error wraps ErrValidation.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, formatValidationErrors(err))
	}
	return nil
}

func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "dir":
			messages = append(messages, field+" must be an existing directory")
		case "gte", "lte", "max":
			messages = append(messages, fmt.Sprintf("%s must satisfy %s=%s", field, e.Tag(), e.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}
