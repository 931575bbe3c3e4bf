package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPSink mails alerts through a relay. Authentication is the relay's
// problem; deployments run a local forwarder.
type SMTPSink struct {
	addr        string // host:port
	from        string
	to          []string
	minSeverity string

	// send is swappable for tests.
	send func(addr, from string, to []string, msg []byte) error
}

// NewSMTPSink builds a mail sink for the given relay.
func NewSMTPSink(host string, port int, from, to, minSeverity string) *SMTPSink {
	recipients := strings.Split(to, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}
	return &SMTPSink{
		addr:        fmt.Sprintf("%s:%d", host, port),
		from:        from,
		to:          recipients,
		minSeverity: minSeverity,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (s *SMTPSink) Deliver(ctx context.Context, a Alert) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(a.Severity), a.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(a.Message)
	b.WriteString("\r\n")

	done := make(chan error, 1)
	go func() { done <- s.send(s.addr, s.from, s.to, []byte(b.String())) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("alerts: smtp send: %w", err)
		}
		return nil
	}
}

func (s *SMTPSink) Name() string        { return "smtp" }
func (s *SMTPSink) MinSeverity() string { return s.minSeverity }
