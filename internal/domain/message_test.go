package domain

import (
	"strings"
	"testing"
)

func TestValidateMessageAcceptsNormalContent(t *testing.T) {
	valid := []string{
		"Your vehicle is blocking the driveway, please move it.",
		"Please call back about your car.",
		strings.Repeat("a", 500),
		// 500 characters even though the encoded form is longer.
		strings.Repeat("ä", 500),
		"Ihr Fahrzeug blockiert die Einfahrt, bitte umparken.",
	}
	for _, msg := range valid {
		if result := ValidateMessage(msg); !result.Valid {
			t.Errorf("expected %q to be valid, got reason %q", msg, result.Reason)
		}
	}
}

func TestValidateMessageRejectsLengthViolations(t *testing.T) {
	cases := []struct {
		name string
		msg  string
	}{
		{"empty", ""},
		{"whitespace only", "   \t\n  "},
		{"too short", "short"},
		{"too short multibyte", strings.Repeat("ä", 9)},
		{"too long", strings.Repeat("a", 501)},
		{"too long multibyte", strings.Repeat("ä", 501)},
	}
	for _, tc := range cases {
		result := ValidateMessage(tc.msg)
		if result.Valid {
			t.Errorf("%s: expected rejection", tc.name)
		}
		if result.Reason == "" {
			t.Errorf("%s: expected a reason", tc.name)
		}
	}
}

func TestValidateMessageRejectsProhibitedContent(t *testing.T) {
	// Length is otherwise acceptable; rejection must come from content.
	cases := []string{
		"bomb bomb bomb",
		"this is a SCAM message",
		"Your car has a virus problem",
		"phishing attempt here",
	}
	for _, msg := range cases {
		result := ValidateMessage(msg)
		if result.Valid {
			t.Errorf("expected %q to be rejected", msg)
		}
		if result.Reason != "message contains prohibited content" {
			t.Errorf("expected prohibited-content reason for %q, got %q", msg, result.Reason)
		}
	}
}

func TestValidateMessageWordBoundaries(t *testing.T) {
	// Substrings inside larger words must not trigger rejection.
	if result := ValidateMessage("The bombardier jacket is in the car"); !result.Valid {
		t.Errorf("substring match should not reject: %q", result.Reason)
	}
	if result := ValidateMessage("Viruses spread, but this mentions scampering"); !result.Valid {
		t.Errorf("substring match should not reject: %q", result.Reason)
	}
}
