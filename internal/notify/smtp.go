package notify

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/services"
)

// SendMailFunc matches net/smtp.SendMail.
type SendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPChannel sends email through a submission server. Recipients without a
// domain are addressed at the configured recipient domain.
type SMTPChannel struct {
	addr     string
	host     string
	username string
	password string
	from     string
	domain   string
	send     SendMailFunc
}

// NewSMTPChannel builds an SMTP channel from configuration.
func NewSMTPChannel(cfg config.Email) *SMTPChannel {
	return &SMTPChannel{
		addr:     net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		host:     cfg.SMTPHost,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		domain:   strings.TrimPrefix(strings.TrimSpace(cfg.RecipientDomain), "@"),
		send:     smtp.SendMail,
	}
}

// WithSendMail replaces the transport; used by tests.
func (s *SMTPChannel) WithSendMail(fn SendMailFunc) *SMTPChannel {
	if fn != nil {
		s.send = fn
	}
	return s
}

func (s *SMTPChannel) Name() string { return config.BackendSMTP }

// Address resolves a recipient id to an email address.
func (s *SMTPChannel) Address(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if strings.Contains(recipient, "@") {
		return recipient, nil
	}
	if s.domain == "" {
		return "", services.Invalid("recipient", fmt.Sprintf("%q has no domain and notifications.email.recipient_domain is unset", recipient))
	}
	return recipient + "@" + s.domain, nil
}

func (s *SMTPChannel) Deliver(ctx context.Context, recipient string, payload Payload) error {
	to, err := s.Address(recipient)
	if err != nil {
		return deliveryError("smtp", "resolve recipient", err)
	}
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	msg := s.compose(to, payload)

	// net/smtp ignores ctx; on cancellation the send is abandoned, not aborted.
	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, auth, s.from, []string{to}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return deliveryError("smtp", "send", err)
		}
		return nil
	case <-ctx.Done():
		return deliveryError("smtp", "send", ctx.Err())
	}
}

func (s *SMTPChannel) compose(to string, payload Payload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", payload.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	if payload.TaskID != "" {
		fmt.Fprintf(&b, "X-Sentinel-Task: %s\r\n", payload.TaskID)
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(payload.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
