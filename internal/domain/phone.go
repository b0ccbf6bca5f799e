package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// phonePattern accepts E.164-style numbers: +, leading digit 1-9, 2-15
// digits total.
var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// ValidatePhoneNumber rejects numbers outside the international format.
func ValidatePhoneNumber(number string) error {
	if !phonePattern.MatchString(number) {
		return fmt.Errorf("phone number %q is not in international format", MaskPhone(number))
	}
	return nil
}

// MaskPhone hides all but the last four characters of a phone number.
// Applied everywhere a number is logged or surfaced in diagnostics.
func MaskPhone(number string) string {
	if len(number) < 4 {
		return "****"
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
