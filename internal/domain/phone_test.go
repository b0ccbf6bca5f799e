package domain

import (
	"strings"
	"testing"
)

func TestMaskPhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+14155551234", "********1234"},
		{"+4917612345678", "**********5678"},
		{"1234", "1234"},
		{"123", "****"},
		{"", "****"},
	}

	for _, tc := range cases {
		if got := MaskPhone(tc.in); got != tc.want {
			t.Errorf("MaskPhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidatePhoneNumber(t *testing.T) {
	valid := []string{"+14155551234", "+49176123456", "+12", "+919876543210"}
	for _, number := range valid {
		if err := ValidatePhoneNumber(number); err != nil {
			t.Errorf("expected %q to be valid, got %v", number, err)
		}
	}

	invalid := []string{"", "+0123456789", "14155551234", "+1", "+1415555123412345", "+1415abc1234", "+1 415 5551234"}
	for _, number := range invalid {
		if err := ValidatePhoneNumber(number); err == nil {
			t.Errorf("expected %q to be rejected", number)
		}
	}
}

func TestValidatePhoneNumberDoesNotLeakFullNumber(t *testing.T) {
	err := ValidatePhoneNumber("0123456789")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := err.Error(); !strings.Contains(got, "6789") || strings.Contains(got, "012345") {
		t.Fatalf("error message should only expose last 4 digits: %q", got)
	}
}
