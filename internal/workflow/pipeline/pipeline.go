// Package pipeline turns a fired job into delivered email: resolve
// recipients, generate stage content, substitute placeholders, hand the
// batch to the transport, and write one log row per recipient.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailagent/internal/campaign"
	"mailagent/internal/contact"
	"mailagent/internal/content"
	"mailagent/internal/mail"
	logx "mailagent/pkg/logx"
)

// Pipeline is the dispatch side of the scheduler: one Run per fired job.
type Pipeline struct {
	registry  campaign.Registry
	directory contact.Directory
	generator content.Generator
	transport mail.Transport
	logs      campaign.LogStore
	tone      string
	log       logx.Logger
}

type Deps struct {
	Registry  campaign.Registry
	Directory contact.Directory
	Generator content.Generator
	Transport mail.Transport
	Logs      campaign.LogStore
	Tone      string
	Log       logx.Logger
}

func New(deps Deps) *Pipeline {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	tone := deps.Tone
	if tone == "" {
		tone = "professional"
	}
	return &Pipeline{
		registry:  deps.Registry,
		directory: deps.Directory,
		generator: deps.Generator,
		transport: deps.Transport,
		logs:      deps.Logs,
		tone:      tone,
		log:       log.With(logx.String("component", "pipeline")),
	}
}

// Run executes one fired stage. An error return means the whole stage failed
// before any send was attempted (campaign lookup, recipient resolution);
// per-recipient failures are recorded as log rows and do not fail the run.
func (p *Pipeline) Run(ctx context.Context, campaignName string, stage campaign.Stage, segments []string) error {
	log := p.log.With(logx.String("campaign", campaignName), logx.String("stage", string(stage)))

	c, err := p.registry.Get(ctx, campaignName)
	if err != nil {
		return fmt.Errorf("pipeline: load campaign %q: %w", campaignName, err)
	}
	if len(segments) == 0 {
		segments = c.Segments
	}

	recipients, err := p.resolve(ctx, segments)
	if err != nil {
		return fmt.Errorf("pipeline: resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		log.Warn("no recipients resolved; nothing to send", logx.Strings("segments", segments))
		return nil
	}

	cc := content.Context{Title: c.Title, Objective: c.Description}
	fallback := ""
	if len(segments) > 0 {
		fallback = segments[0]
	}

	// Content is generated per recipient, keyed by the contact's role, so a
	// generation failure skips only that recipient. Recipients sharing a role
	// share one generation.
	generated := map[string]content.Content{}
	var (
		kept []contact.Contact
		msgs []mail.Message
	)
	skipped := 0
	for _, r := range recipients {
		key := r.Role
		if key == "" {
			key = fallback
		}
		gen, ok := generated[key]
		if !ok {
			var err error
			gen, err = p.generator.Generate(ctx, cc, key, stage, p.tone)
			if err != nil {
				log.Error("content generation failed; recipient skipped",
					logx.String("email", r.Email),
					logx.String("segment", key),
					logx.Err(err))
				p.insertLog(ctx, campaign.EmailLog{
					CampaignName: campaignName,
					Email:        r.Email,
					Stage:        stage,
					Status:       campaign.LogFailed,
					Timestamp:    time.Now(),
					ErrorMessage: fmt.Sprintf("content generation: %v", err),
				})
				skipped++
				continue
			}
			generated[key] = gen
		}
		kept = append(kept, r)
		msgs = append(msgs, mail.Message{
			To:      r.Email,
			Subject: substitute(gen.Subject, r),
			Body:    substitute(gen.Body, r),
		})
	}
	if len(msgs) == 0 {
		log.Warn("no content generated for any recipient", logx.Int("skipped", skipped))
		return nil
	}

	log.Info("sending batch", logx.Int("recipients", len(msgs)), logx.Int("skipped", skipped))
	outcomes := p.transport.SendBatch(ctx, msgs)

	sent, failed := 0, 0
	now := time.Now()
	for i, out := range outcomes {
		row := campaign.EmailLog{
			CampaignName: campaignName,
			Email:        out.To,
			Stage:        stage,
			Timestamp:    now,
			MessageID:    out.MessageID,
		}
		if i < len(kept) && row.Email == "" {
			row.Email = kept[i].Email
		}
		if out.Err != nil {
			row.Status = campaign.LogFailed
			row.ErrorMessage = out.Err.Error()
			failed++
		} else {
			row.Status = campaign.LogSent
			sent++
		}
		p.insertLog(ctx, row)
	}

	log.Info("batch done", logx.Int("sent", sent), logx.Int("failed", failed))
	return nil
}

// resolve unions the contacts of every segment, deduplicated by email.
// An empty segment list means the whole directory.
func (p *Pipeline) resolve(ctx context.Context, segments []string) ([]contact.Contact, error) {
	if len(segments) == 0 {
		return p.directory.All(ctx)
	}
	seen := map[string]struct{}{}
	var out []contact.Contact
	for _, seg := range segments {
		batch, err := p.directory.BySegment(ctx, seg)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", seg, err)
		}
		for _, c := range batch {
			key := strings.ToLower(strings.TrimSpace(c.Email))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *Pipeline) insertLog(ctx context.Context, row campaign.EmailLog) {
	if err := p.logs.Insert(ctx, row); err != nil {
		p.log.Warn("email log insert failed",
			logx.String("campaign", row.CampaignName),
			logx.String("email", row.Email),
			logx.Err(err))
	}
}

// substitute fills the placeholder tokens the pipeline knows about. Unknown
// tokens are left verbatim so a generator typo is visible rather than
// silently blanked.
func substitute(s string, c contact.Contact) string {
	name := c.Name
	if name == "" {
		name = "there"
	}
	school := c.SchoolName
	if school == "" {
		school = "your school"
	}
	r := strings.NewReplacer(
		"{contact_name}", name,
		"{school_name}", school,
	)
	return r.Replace(s)
}
