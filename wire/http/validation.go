package http

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var issueIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
var lowercaseIdentPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// shellMetacharacters is the set of characters rejected outright from path-
// and identifier-shaped fields regardless of an otherwise-matching pattern,
// per spec.md §4.5 "reject ... shell metacharacters, null bytes."
const shellMetacharacters = "|&;$`\\\"'<>(){}\x00"

// newValidator builds the shared validator instance, registering the custom
// rules spec.md §4.5 calls out by name so struct tags can reference them
// directly (`validate:"issue_id"`, `validate:"worktree_path"`,
// `validate:"lowercase_ident"`).
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("issue_id", validateIssueID)
	_ = v.RegisterValidation("worktree_path", validateWorktreePath)
	_ = v.RegisterValidation("lowercase_ident", validateLowercaseIdent)
	return v
}

func validateIssueID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return issueIDPattern.MatchString(s) && !strings.ContainsAny(s, shellMetacharacters)
}

func validateWorktreePath(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.ContainsRune(s, 0) || strings.ContainsAny(s, shellMetacharacters) {
		return false
	}
	if !filepath.IsAbs(s) {
		return false
	}
	return filepath.Clean(s) == s
}

func validateLowercaseIdent(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	return lowercaseIdentPattern.MatchString(s)
}

// validate runs v against req and, on failure, returns a *validationError
// writeError recognizes and maps to 400 VALIDATION_ERROR.
func validate(v *validator.Validate, req any) error {
	if err := v.Struct(req); err != nil {
		return &validationError{msg: fmt.Sprintf("request validation failed: %v", err)}
	}
	return nil
}
