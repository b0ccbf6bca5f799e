package alert

import (
	"fmt"
	"strings"

	"github.com/acme/vehicle-contact-relay/internal/repository"
)

// Urgency grades an emergency alert.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

var urgencyBanners = map[Urgency]string{
	UrgencyLow:      "[Notice]",
	UrgencyMedium:   "[Attention]",
	UrgencyHigh:     "[Urgent]",
	UrgencyCritical: "[EMERGENCY]",
}

// Customizations adjust a template before delivery. Zero-value fields are
// skipped.
type Customizations struct {
	VehicleDescriptor string
	Location          string
	ContactHint       string
	Urgency           Urgency
}

// defaultTemplate backs alerting when the template store is empty or
// unreachable; an emergency alert must never fail for lack of copy.
var defaultTemplate = repository.AlertTemplate{
	ID:          "builtin-default",
	Name:        "default",
	CallMessage: "This is an automated alert regarding your vehicle. Please return to it or contact the sender as soon as possible.",
	SMSMessage:  "Alert regarding your vehicle: please return to it or contact the sender as soon as possible.",
	IsDefault:   true,
}

// composeMessage applies customizations to template text in a fixed
// order: vehicle descriptor substitution, location clause, contact
// clause, urgency banner prefix.
func composeMessage(text string, c Customizations) string {
	msg := strings.TrimSpace(text)

	if c.VehicleDescriptor != "" {
		msg = strings.ReplaceAll(msg, "your vehicle", "your "+c.VehicleDescriptor)
	}
	if c.Location != "" {
		msg = fmt.Sprintf("%s Location: %s.", msg, c.Location)
	}
	if c.ContactHint != "" {
		msg = fmt.Sprintf("%s Contact: %s.", msg, c.ContactHint)
	}
	if banner, ok := urgencyBanners[c.Urgency]; ok && banner != "" {
		msg = banner + " " + msg
	}

	return msg
}
