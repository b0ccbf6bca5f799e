package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	messageMinLength = 10
	messageMaxLength = 500
)

// prohibitedPatterns rejects alert content that must never be relayed
// through the platform. Word-boundary matched, case-insensitive.
var prohibitedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(hack|hacking|hacked|malware|virus)\b`),
	regexp.MustCompile(`(?i)\b(scam|fraud|phishing)\b`),
	regexp.MustCompile(`(?i)\b(bomb|explosive|weapon)\b`),
}

// MessageValidation is the outcome of validating alert message content.
type MessageValidation struct {
	Valid  bool
	Reason string
}

// ValidateMessage applies the shared content rules for both template and
// custom-message alert paths.
func ValidateMessage(message string) MessageValidation {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return MessageValidation{Reason: "message is empty"}
	}
	length := utf8.RuneCountInString(trimmed)
	if length > messageMaxLength {
		return MessageValidation{Reason: "message exceeds 500 characters"}
	}
	if length < messageMinLength {
		return MessageValidation{Reason: "message is shorter than 10 characters"}
	}
	for _, pattern := range prohibitedPatterns {
		if pattern.MatchString(trimmed) {
			return MessageValidation{Reason: "message contains prohibited content"}
		}
	}
	return MessageValidation{Valid: true}
}
