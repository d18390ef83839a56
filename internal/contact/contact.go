// Package contact is the boundary to the contact directory. The scheduler
// core only needs segment lookups; import, CSV mapping and dedup live in the
// tooling that fills the collection.
package contact

import "context"

// Contact is a deliverable recipient. Tags are the audience segments the
// contact belongs to.
type Contact struct {
	Email      string            `bson:"email" json:"email"`
	Name       string            `bson:"name,omitempty" json:"name,omitempty"`
	SchoolName string            `bson:"school_name,omitempty" json:"school_name,omitempty"`
	Role       string            `bson:"role,omitempty" json:"role,omitempty"`
	Tags       []string          `bson:"tags,omitempty" json:"tags,omitempty"`
	Attributes map[string]string `bson:"attributes,omitempty" json:"attributes,omitempty"`
}

// Directory resolves recipients for a send.
type Directory interface {
	// BySegment returns every contact tagged with the given segment.
	BySegment(ctx context.Context, tag string) ([]Contact, error)
	// All returns the full contact set.
	All(ctx context.Context) ([]Contact, error)
}
