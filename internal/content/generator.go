// Package content is the boundary to the content-generation collaborator.
//
// A production deployment typically points this at an external copywriting
// service; the scheduler core only depends on the Generator interface.
// TemplateGenerator is the built-in fallback used when no external generator
// is configured.
package content

import (
	"context"

	"mailagent/internal/campaign"
)

// Context is the campaign information handed to the generator.
type Context struct {
	Title            string
	Objective        string
	EventDate        string
	Location         string
	KeyPoints        []string
	CallToAction     string
	RegistrationLink string
}

// Content is one generated email. Placeholders lists the tokens the body may
// still contain (e.g. "{contact_name}"); the send pipeline substitutes the
// ones it knows and leaves the rest verbatim.
type Content struct {
	Subject      string
	Body         string
	Placeholders []string
}

type Generator interface {
	Generate(ctx context.Context, cc Context, segment string, stage campaign.Stage, tone string) (Content, error)
}
