package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"mailagent/internal/config"
	logx "mailagent/pkg/logx"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestTransport(sendErr map[string]error) (*SMTPTransport, *[]sentMail) {
	tr := NewSMTPTransport(config.SMTPConfig{
		Host: "smtp.example.org",
		Port: 2525,
		From: "noreply@example.org",
	}, logx.Nop())
	var sent []sentMail
	tr.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if err := sendErr[to[0]]; err != nil {
			return err
		}
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return tr, &sent
}

func TestSendBatchOutcomesInOrder(t *testing.T) {
	t.Parallel()
	tr, sent := newTestTransport(map[string]error{
		"bad@x.org": errors.New("550 no such user"),
	})

	out := tr.SendBatch(context.Background(), []Message{
		{To: "a@x.org", Subject: "Hello", Body: "<p>hi</p>"},
		{To: "bad@x.org", Subject: "Hello", Body: "<p>hi</p>"},
		{To: "b@x.org", Subject: "Hello", Body: "<p>hi</p>"},
	})

	if len(out) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(out))
	}
	if out[0].To != "a@x.org" || out[1].To != "bad@x.org" || out[2].To != "b@x.org" {
		t.Fatalf("outcomes out of order: %+v", out)
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Fatalf("good sends errored: %+v", out)
	}
	if out[1].Err == nil {
		t.Fatal("bad send reported success")
	}
	if out[0].MessageID == "" || out[1].MessageID != "" {
		t.Fatalf("message ids wrong: %+v", out)
	}
	if len(*sent) != 2 {
		t.Fatalf("%d messages handed to smtp, want 2", len(*sent))
	}
	if (*sent)[0].addr != "smtp.example.org:2525" {
		t.Fatalf("addr = %q", (*sent)[0].addr)
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	t.Parallel()
	tr, sent := newTestTransport(nil)

	out := tr.SendBatch(context.Background(), []Message{
		{To: "a@x.org", Subject: "Spring\r\nBcc: sneak@x.org", Body: "<p>hi</p>"},
	})
	if out[0].Err != nil {
		t.Fatalf("send: %v", out[0].Err)
	}

	msg := (*sent)[0].msg
	headers, body, ok := strings.Cut(msg, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header/body separator in %q", msg)
	}
	if !strings.Contains(headers, "From: noreply@example.org") {
		t.Fatal("missing From header")
	}
	if !strings.Contains(headers, "Content-Type: text/html") {
		t.Fatal("missing html content type")
	}
	if strings.Contains(headers, "Bcc:") {
		t.Fatal("header injection not sanitized")
	}
	if body != "<p>hi</p>" {
		t.Fatalf("body = %q", body)
	}
}

func TestSendBatchHonorsCanceledContext(t *testing.T) {
	t.Parallel()
	tr, sent := newTestTransport(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := tr.SendBatch(ctx, []Message{{To: "a@x.org", Subject: "s", Body: "b"}})
	if out[0].Err == nil {
		t.Fatal("expected context error")
	}
	if len(*sent) != 0 {
		t.Fatal("sent despite canceled context")
	}
}
