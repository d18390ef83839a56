// Package mail is the boundary to the delivery transport. Best-effort SMTP
// only: there is no delivery guarantee beyond what the upstream server
// acknowledges.
package mail

import "context"

// Message is one fully-resolved email ready for handoff.
type Message struct {
	To      string
	Subject string
	Body    string // HTML
}

// Outcome is the per-recipient delivery result. Err is nil for a successful
// handoff; MessageID is the provider id when one is known.
type Outcome struct {
	To        string
	MessageID string
	Err       error
}

// Transport delivers a batch and reports one Outcome per message, in order.
// A failure for one recipient never aborts the rest of the batch.
type Transport interface {
	SendBatch(ctx context.Context, msgs []Message) []Outcome
}
