package services

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	maxTaskNameLen    = 200
	maxTaskDescLen    = 1000
	maxPersonNameLen  = 100
	maxDisplayNameLen = 200
	maxUsernameLen    = 50
	maxEmailLen       = 255
	maxRoleLen        = 50
	minPasswordLen    = 6
	// bcrypt only reads the first 72 bytes of its input.
	maxPasswordBytes = 72
)

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func (v *validator) required(value, field string, max int) {
	if blank(value) {
		v.problems = append(v.problems, field+" is required")
		return
	}
	v.maxLen(value, field, max)
}

func (v *validator) optional(value *string, field string, max int) {
	if value != nil {
		v.maxLen(*value, field, max)
	}
}

func (v *validator) maxLen(value, field string, max int) {
	v.check(utf8.RuneCountInString(value) <= max, fmt.Sprintf("%s cannot exceed %d characters", field, max))
}

func (v *validator) password(value string) {
	if value == "" {
		v.problems = append(v.problems, "Password is required")
		return
	}
	v.check(utf8.RuneCountInString(value) >= minPasswordLen, fmt.Sprintf("Password must be at least %d characters", minPasswordLen))
	v.check(len(value) <= maxPasswordBytes, fmt.Sprintf("Password cannot exceed %d bytes", maxPasswordBytes))
}

func (v *validator) email(value string) {
	if blank(value) {
		v.problems = append(v.problems, "Email is required")
		return
	}
	v.maxLen(value, "Email", maxEmailLen)
	v.check(validEmail(value), "Invalid email format")
}
