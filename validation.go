package auth

import (
	stderrors "errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

var emailRules = []validation.Rule{
	validation.Required,
	validation.Length(5, 255),
	is.Email,
}

var passwordRules = []validation.Rule{
	validation.Required,
	validation.Length(6, 255),
}

var usernameRules = []validation.Rule{
	validation.Required,
	validation.Length(1, 20),
	validation.Match(usernamePattern).Error("must contain only letters, digits, '_', '.' or '-'"),
}

// optional swaps Required for NilOrNotEmpty so absent fields pass
func optional(rules []validation.Rule) []validation.Rule {
	out := []validation.Rule{validation.NilOrNotEmpty}
	for _, rule := range rules {
		if rule == validation.Required {
			continue
		}
		out = append(out, rule)
	}
	return out
}

func roleNames() []any {
	out := []any{}
	for _, r := range GetAllRoles() {
		out = append(out, r.String())
	}
	return out
}

// RegisterPayload is the registration request body
type RegisterPayload struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Role     string `json:"role,omitempty" form:"role"`
}

// Validate will validate the payload
func (r RegisterPayload) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))

	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, usernameRules...),
		validation.Field(&r.Email, emailRules...),
		validation.Field(&r.Password, passwordRules...),
		validation.Field(&r.Role, validation.In(roleNames()...)),
	)
}

// LoginPayload is the login request body
type LoginPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will validate the payload
func (r LoginPayload) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, emailRules...),
		validation.Field(&r.Password, passwordRules...),
	)
}

// VerifyEmailPayload is the administrative verification request body
type VerifyEmailPayload struct {
	Email string `json:"email" form:"email"`
}

// Validate will validate the payload
func (r VerifyEmailPayload) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, emailRules...),
	)
}

// VerifyTokenQuery carries the raw ticket from the verification link
type VerifyTokenQuery struct {
	Token string `json:"token"`
}

// Validate will validate the query
func (r VerifyTokenQuery) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required, validation.Length(16, 512)),
	)
}

// ProfileUpdatePayload changes the caller's own account. At least one field
// must be present.
type ProfileUpdatePayload struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Validate will validate the payload
func (r ProfileUpdatePayload) Validate() error {
	if r.Username == nil && r.Email == nil && r.Password == nil {
		return validation.Errors{
			"body": stderrors.New("at least one of username, email or password is required"),
		}
	}

	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, optional(usernameRules)...),
		validation.Field(&r.Email, optional(emailRules)...),
		validation.Field(&r.Password, optional(passwordRules)...),
	)
}

// DeleteUsersQuery selects accounts to delete. Exactly one selector is
// allowed when all is set.
type DeleteUsersQuery struct {
	ID         string `json:"id"`
	All        string `json:"all"`
	IsVerified string `json:"isverified"`
}

// Validate will validate the query
func (r DeleteUsersQuery) Validate() error {
	all := r.All == "true"
	if all && (r.ID != "" || r.IsVerified != "") {
		return validation.Errors{
			"all": stderrors.New("provide either all, isverified or id, not a mix"),
		}
	}

	if !all && r.ID == "" && r.IsVerified == "" {
		return validation.Errors{
			"id": stderrors.New("provide one of all, isverified or id"),
		}
	}

	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, is.UUID),
		validation.Field(&r.All, validation.In("true", "false")),
		validation.Field(&r.IsVerified, validation.In("true", "false")),
	)
}

// ChangeRolePayload is the role change request body
type ChangeRolePayload struct {
	Role string `json:"role"`
}

// Validate will validate the payload
func (r ChangeRolePayload) Validate() error {
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required, validation.In(roleNames()...)),
	)
}

// ListUsersQuery paginates the account listing
type ListUsersQuery struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Validate will validate the query
func (r ListUsersQuery) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Page, validation.Min(0), validation.Max(maxPage)),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(maxPageLimit)),
	)
}

// validationError converts ozzo errors into ErrValidation carrying one
// message per field
func validationError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	details := map[string]any{}
	var fieldErrs validation.Errors
	if stderrors.As(err, &fieldErrs) {
		for field, ferr := range fieldErrs {
			if ferr != nil {
				details[field] = ferr.Error()
			}
		}
	} else {
		details["body"] = err.Error()
	}

	return withDetails(ErrValidation, details)
}
