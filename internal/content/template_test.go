package content

import (
	"context"
	"strings"
	"testing"

	"mailagent/internal/campaign"
)

func TestTemplateGeneratorPerStage(t *testing.T) {
	t.Parallel()
	g := NewTemplateGenerator()
	cc := Context{
		Title:            "Open House 2026",
		EventDate:        "Oct 12",
		Location:         "Main Hall",
		CallToAction:     "Reserve your spot today.",
		RegistrationLink: "https://example.org/register",
	}

	cases := []struct {
		stage       campaign.Stage
		subjectPart string
	}{
		{campaign.StageInvite, "invited"},
		{campaign.StageReminder, "Reminder"},
		{campaign.StageThankYou, "Thank you"},
		{campaign.StageFollowUp, "Following up"},
	}
	subjects := map[string]bool{}
	for _, c := range cases {
		c := c
		t.Run(string(c.stage), func(t *testing.T) {
			got, err := g.Generate(context.Background(), cc, "teachers", c.stage, "professional")
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if !strings.Contains(got.Subject, c.subjectPart) {
				t.Fatalf("subject %q missing %q", got.Subject, c.subjectPart)
			}
			if !strings.Contains(got.Body, "{contact_name}") {
				t.Fatal("body lost the contact placeholder")
			}
			if !strings.Contains(got.Body, cc.Title) {
				t.Fatal("body missing campaign title")
			}
			subjects[got.Subject] = true
		})
	}
	if len(subjects) != len(cases) {
		t.Fatalf("stages share subjects: %v", subjects)
	}
}

func TestTemplateGeneratorUnknownStage(t *testing.T) {
	t.Parallel()
	g := NewTemplateGenerator()
	if _, err := g.Generate(context.Background(), Context{Title: "X"}, "", campaign.Stage("newsletter"), ""); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestTemplateGeneratorOptionalSections(t *testing.T) {
	t.Parallel()
	g := NewTemplateGenerator()
	got, err := g.Generate(context.Background(), Context{Title: "Bare"}, "", campaign.StageInvite, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Contains(got.Body, "When:") || strings.Contains(got.Body, "Register here") {
		t.Fatalf("empty optional sections rendered: %q", got.Body)
	}
}
