package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"mailagent/internal/campaign"
	"mailagent/internal/contact"
	"mailagent/internal/content"
	"mailagent/internal/mail"
	logx "mailagent/pkg/logx"
)

type fakeRegistry struct {
	c   *campaign.Campaign
	err error
}

func (r *fakeRegistry) Upsert(context.Context, *campaign.Campaign) error { return nil }
func (r *fakeRegistry) Get(_ context.Context, name string) (*campaign.Campaign, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.c == nil || r.c.Name != name {
		return nil, campaign.ErrNotFound
	}
	return r.c, nil
}
func (r *fakeRegistry) List(context.Context) ([]campaign.Campaign, error) { return nil, nil }
func (r *fakeRegistry) SetStatus(context.Context, string, campaign.Status) error {
	return nil
}
func (r *fakeRegistry) SetTargets(context.Context, string, campaign.Targets) error {
	return nil
}

type fakeDirectory struct {
	segments map[string][]contact.Contact
	all      []contact.Contact
	err      error
}

func (d *fakeDirectory) BySegment(_ context.Context, tag string) ([]contact.Contact, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.segments[tag], nil
}

func (d *fakeDirectory) All(context.Context) ([]contact.Contact, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.all, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	content  content.Content
	err      error
	errFor   map[string]error
	segments []string
}

func (g *fakeGenerator) Generate(_ context.Context, _ content.Context, segment string, _ campaign.Stage, _ string) (content.Content, error) {
	g.mu.Lock()
	g.segments = append(g.segments, segment)
	g.mu.Unlock()
	if g.err != nil {
		return content.Content{}, g.err
	}
	if err := g.errFor[segment]; err != nil {
		return content.Content{}, err
	}
	return g.content, nil
}

type fakeTransport struct {
	mu      sync.Mutex
	batches [][]mail.Message
	failFor map[string]error
}

func (t *fakeTransport) SendBatch(_ context.Context, msgs []mail.Message) []mail.Outcome {
	t.mu.Lock()
	t.batches = append(t.batches, msgs)
	t.mu.Unlock()
	out := make([]mail.Outcome, len(msgs))
	for i, m := range msgs {
		out[i] = mail.Outcome{To: m.To, MessageID: "mid-" + m.To}
		if err := t.failFor[m.To]; err != nil {
			out[i] = mail.Outcome{To: m.To, Err: err}
		}
	}
	return out
}

type fakeLogStore struct {
	mu   sync.Mutex
	rows []campaign.EmailLog
	err  error
}

func (s *fakeLogStore) Insert(_ context.Context, e campaign.EmailLog) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.rows = append(s.rows, e)
	s.mu.Unlock()
	return nil
}

func (s *fakeLogStore) ListByCampaign(context.Context, string) ([]campaign.EmailLog, error) {
	return nil, nil
}
func (s *fakeLogStore) CampaignStats(context.Context, string) (campaign.LogStats, error) {
	return campaign.LogStats{}, nil
}
func (s *fakeLogStore) AllCampaignStats(context.Context) (map[string]campaign.LogStats, error) {
	return nil, nil
}

func testCampaign() *campaign.Campaign {
	return &campaign.Campaign{
		Name:     "fair",
		Title:    "Science Fair",
		Status:   campaign.StatusActive,
		Segments: []string{"teachers"},
	}
}

func newTestPipeline(reg campaign.Registry, dir contact.Directory, gen content.Generator, tr mail.Transport, logs campaign.LogStore) *Pipeline {
	return New(Deps{
		Registry:  reg,
		Directory: dir,
		Generator: gen,
		Transport: tr,
		Logs:      logs,
		Log:       logx.Nop(),
	})
}

func TestRunSendsToSegmentUnionDeduped(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{segments: map[string][]contact.Contact{
		"teachers":   {{Email: "a@x.org", Name: "Ana"}, {Email: "b@x.org", Name: "Ben"}},
		"principals": {{Email: "B@X.org", Name: "Ben"}, {Email: "c@x.org", Name: "Cy"}},
	}}
	tr := &fakeTransport{}
	logs := &fakeLogStore{}
	p := newTestPipeline(&fakeRegistry{c: testCampaign()}, dir, &fakeGenerator{content: content.Content{Subject: "s", Body: "b"}}, tr, logs)

	err := p.Run(context.Background(), "fair", campaign.StageInvite, []string{"teachers", "principals"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(tr.batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(tr.batches))
	}
	if len(tr.batches[0]) != 3 {
		t.Fatalf("got %d messages, want 3 (deduped)", len(tr.batches[0]))
	}
	if len(logs.rows) != 3 {
		t.Fatalf("got %d log rows, want 3", len(logs.rows))
	}
	for _, row := range logs.rows {
		if row.Status != campaign.LogSent || row.Stage != campaign.StageInvite {
			t.Fatalf("unexpected row %+v", row)
		}
		if row.MessageID == "" {
			t.Fatal("sent row missing message id")
		}
	}
}

func TestRunEmptySegmentsUsesFullDirectory(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{all: []contact.Contact{{Email: "a@x.org"}, {Email: "b@x.org"}}}
	tr := &fakeTransport{}
	c := testCampaign()
	c.Segments = nil
	p := newTestPipeline(&fakeRegistry{c: c}, dir, &fakeGenerator{content: content.Content{Subject: "s", Body: "b"}}, tr, &fakeLogStore{})

	if err := p.Run(context.Background(), "fair", campaign.StageReminder, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(tr.batches) != 1 || len(tr.batches[0]) != 2 {
		t.Fatalf("batches = %+v, want one batch of 2", tr.batches)
	}
}

func TestRunRecordsFailedOutcomes(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{segments: map[string][]contact.Contact{
		"teachers": {{Email: "ok@x.org"}, {Email: "bad@x.org"}},
	}}
	tr := &fakeTransport{failFor: map[string]error{"bad@x.org": errors.New("550 mailbox unavailable")}}
	logs := &fakeLogStore{}
	p := newTestPipeline(&fakeRegistry{c: testCampaign()}, dir, &fakeGenerator{content: content.Content{Subject: "s", Body: "b"}}, tr, logs)

	if err := p.Run(context.Background(), "fair", campaign.StageInvite, []string{"teachers"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var sent, failed int
	for _, row := range logs.rows {
		switch row.Status {
		case campaign.LogSent:
			sent++
		case campaign.LogFailed:
			failed++
			if row.ErrorMessage == "" {
				t.Fatal("failed row missing error message")
			}
		}
	}
	if sent != 1 || failed != 1 {
		t.Fatalf("sent=%d failed=%d, want 1/1", sent, failed)
	}
}

func TestRunContentFailureRecordsFailedRows(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{segments: map[string][]contact.Contact{
		"teachers": {{Email: "a@x.org"}, {Email: "b@x.org"}},
	}}
	tr := &fakeTransport{}
	logs := &fakeLogStore{}
	p := newTestPipeline(&fakeRegistry{c: testCampaign()}, dir, &fakeGenerator{err: errors.New("generator offline")}, tr, logs)

	if err := p.Run(context.Background(), "fair", campaign.StageInvite, []string{"teachers"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(tr.batches) != 0 {
		t.Fatal("sent a batch despite content failure")
	}
	if len(logs.rows) != 2 {
		t.Fatalf("got %d failed rows, want 2", len(logs.rows))
	}
	for _, row := range logs.rows {
		if row.Status != campaign.LogFailed {
			t.Fatalf("row status = %s, want failed", row.Status)
		}
	}
}

func TestRunContentFailureSkipsOnlyThatRecipient(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{segments: map[string][]contact.Contact{
		"teachers": {
			{Email: "t1@x.org", Role: "teacher"},
			{Email: "t2@x.org", Role: "teacher"},
			{Email: "p@x.org", Role: "principal"},
		},
	}}
	gen := &fakeGenerator{
		content: content.Content{Subject: "s", Body: "b"},
		errFor:  map[string]error{"principal": errors.New("generator offline")},
	}
	tr := &fakeTransport{}
	logs := &fakeLogStore{}
	p := newTestPipeline(&fakeRegistry{c: testCampaign()}, dir, gen, tr, logs)

	if err := p.Run(context.Background(), "fair", campaign.StageInvite, []string{"teachers"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(tr.batches) != 1 || len(tr.batches[0]) != 2 {
		t.Fatalf("batches = %+v, want one batch of the 2 teachers", tr.batches)
	}
	for _, m := range tr.batches[0] {
		if m.To == "p@x.org" {
			t.Fatal("recipient with failed content was sent anyway")
		}
	}

	var sent, failed int
	for _, row := range logs.rows {
		switch row.Status {
		case campaign.LogSent:
			sent++
		case campaign.LogFailed:
			failed++
			if row.Email != "p@x.org" {
				t.Fatalf("failed row for %s, want p@x.org", row.Email)
			}
			if !strings.Contains(row.ErrorMessage, "content generation") {
				t.Fatalf("failed row message = %q", row.ErrorMessage)
			}
		}
	}
	if sent != 2 || failed != 1 {
		t.Fatalf("sent=%d failed=%d, want 2/1", sent, failed)
	}

	// Recipients sharing a role share one generation: teacher once,
	// principal once.
	if len(gen.segments) != 2 {
		t.Fatalf("generator called %d times, want 2: %v", len(gen.segments), gen.segments)
	}
}

func TestRunUnknownCampaignIsError(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(&fakeRegistry{}, &fakeDirectory{}, &fakeGenerator{}, &fakeTransport{}, &fakeLogStore{})
	err := p.Run(context.Background(), "ghost", campaign.StageInvite, nil)
	if !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRunNoRecipientsIsNoop(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{segments: map[string][]contact.Contact{}}
	tr := &fakeTransport{}
	logs := &fakeLogStore{}
	p := newTestPipeline(&fakeRegistry{c: testCampaign()}, dir, &fakeGenerator{content: content.Content{Subject: "s", Body: "b"}}, tr, logs)

	if err := p.Run(context.Background(), "fair", campaign.StageInvite, []string{"teachers"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(tr.batches) != 0 || len(logs.rows) != 0 {
		t.Fatal("expected no sends and no rows")
	}
}

func TestSubstitute(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		c    contact.Contact
		want string
	}{
		{"both known", "Hi {contact_name} of {school_name}", contact.Contact{Name: "Ana", SchoolName: "Hilltop"}, "Hi Ana of Hilltop"},
		{"missing name", "Hi {contact_name}", contact.Contact{}, "Hi there"},
		{"missing school", "At {school_name}", contact.Contact{Name: "Ana"}, "At your school"},
		{"unknown token kept", "Code {promo_code}", contact.Contact{Name: "Ana"}, "Code {promo_code}"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			if got := substitute(c.in, c.c); got != c.want {
				t.Fatalf("substitute(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
