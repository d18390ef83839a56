package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mailagent/internal/config"
	logx "mailagent/pkg/logx"
)

// SMTPTransport sends each message over a plain SMTP session. Sends are
// throttled with a token bucket so a large batch cannot trip upstream
// rate limits.
type SMTPTransport struct {
	cfg     config.SMTPConfig
	limiter *rate.Limiter
	log     logx.Logger

	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPTransport(cfg config.SMTPConfig, log logx.Logger) *SMTPTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &SMTPTransport{
		cfg:     cfg,
		limiter: lim,
		log:     log.With(logx.String("component", "smtp")),
		send:    smtp.SendMail,
	}
}

func (t *SMTPTransport) SendBatch(ctx context.Context, msgs []Message) []Outcome {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}

	out := make([]Outcome, 0, len(msgs))
	for _, m := range msgs {
		o := Outcome{To: m.To}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				o.Err = err
				out = append(out, o)
				continue
			}
		} else if err := ctx.Err(); err != nil {
			o.Err = err
			out = append(out, o)
			continue
		}

		// SMTP gives us no server-side id on success; mint one so log rows
		// stay correlatable.
		id := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.cfg.Host)
		raw := t.buildMessage(m, id)

		if err := t.send(addr, auth, t.cfg.From, []string{m.To}, raw); err != nil {
			o.Err = err
			t.log.Warn("send failed", logx.String("to", m.To), logx.Err(err))
		} else {
			o.MessageID = id
			t.log.Debug("sent", logx.String("to", m.To), logx.String("message_id", id))
		}
		out = append(out, o)
	}
	return out
}

func (t *SMTPTransport) buildMessage(m Message, id string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", t.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(m.Subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", id)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so message content can't inject headers.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
