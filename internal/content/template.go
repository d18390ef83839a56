package content

import (
	"context"
	"fmt"
	"strings"

	"mailagent/internal/campaign"
)

// TemplateGenerator renders fixed per-stage templates. It never fails for a
// known stage, which makes it a safe default when the external generator is
// not configured.
type TemplateGenerator struct{}

func NewTemplateGenerator() *TemplateGenerator { return &TemplateGenerator{} }

var stagePlaceholders = []string{"{contact_name}", "{school_name}"}

func (g *TemplateGenerator) Generate(_ context.Context, cc Context, _ string, stage campaign.Stage, _ string) (Content, error) {
	var subject, lead, action string
	switch stage {
	case campaign.StageInvite:
		subject = fmt.Sprintf("You're invited: %s", cc.Title)
		lead = fmt.Sprintf("We'd love to see you at %s.", cc.Title)
		action = cc.CallToAction
	case campaign.StageReminder:
		subject = fmt.Sprintf("Reminder: %s", cc.Title)
		lead = fmt.Sprintf("A quick reminder that %s is coming up.", cc.Title)
		action = cc.CallToAction
	case campaign.StageThankYou:
		subject = fmt.Sprintf("Thank you from %s", cc.Title)
		lead = fmt.Sprintf("Thank you for joining %s.", cc.Title)
		action = "We hope to see you again."
	case campaign.StageFollowUp:
		subject = fmt.Sprintf("Following up: %s", cc.Title)
		lead = fmt.Sprintf("Following up on %s with the highlights.", cc.Title)
		action = cc.CallToAction
	default:
		return Content{}, fmt.Errorf("content: unknown stage %q", stage)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi {contact_name},</p>\n")
	fmt.Fprintf(&b, "<p>%s</p>\n", lead)
	if cc.EventDate != "" || cc.Location != "" {
		fmt.Fprintf(&b, "<p>When: %s<br>Where: %s</p>\n", cc.EventDate, cc.Location)
	}
	if len(cc.KeyPoints) > 0 {
		b.WriteString("<ul>\n")
		for _, p := range cc.KeyPoints {
			fmt.Fprintf(&b, "<li>%s</li>\n", p)
		}
		b.WriteString("</ul>\n")
	}
	if action != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", action)
	}
	if cc.RegistrationLink != "" {
		fmt.Fprintf(&b, "<p><a href=%q>Register here</a></p>\n", cc.RegistrationLink)
	}
	b.WriteString("<p>Best regards,<br>The {school_name} team</p>\n")

	return Content{
		Subject:      subject,
		Body:         b.String(),
		Placeholders: stagePlaceholders,
	}, nil
}
