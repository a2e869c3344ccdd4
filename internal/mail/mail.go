// Package mail builds and delivers the notification message over SMTP.
package mail

import (
	"context"
	"fmt"
	"io"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"resumesync/internal/config"
)

// Attachment is one file attached to a Message.
type Attachment struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Message is a single notification email.
type Message struct {
	From        string
	FromName    string
	To          string
	ToName      string
	ReplyTo     string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// MessageFromConfig returns a Message carrying the fixed fields of cfg and no attachments.
func MessageFromConfig(cfg config.MailConfig) Message {
	return Message{
		From:     cfg.From,
		FromName: cfg.FromName,
		To:       cfg.To,
		ToName:   cfg.ToName,
		ReplyTo:  cfg.ReplyTo,
		Subject:  cfg.Subject,
		HTMLBody: cfg.Body,
	}
}

// Build converts m into a go-mail message.
func Build(m Message) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(m.FromName, m.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.AddToFormat(m.ToName, m.To); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	if m.ReplyTo != "" {
		if err := msg.ReplyTo(m.ReplyTo); err != nil {
			return nil, fmt.Errorf("set reply-to: %w", err)
		}
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextHTML, m.HTMLBody)

	for _, a := range m.Attachments {
		var opts []gomail.FileOption
		if a.ContentType != "" {
			opts = append(opts, gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		}
		if err := msg.AttachReader(a.Name, a.Content, opts...); err != nil {
			return nil, fmt.Errorf("attach %q: %w", a.Name, err)
		}
	}
	return msg, nil
}

// SMTPSender delivers messages through an authenticated SMTP server.
type SMTPSender struct {
	client *gomail.Client
}

// NewSMTPSender creates an SMTPSender from cfg. No connection is made until Send.
func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	policy, err := tlsPolicy(cfg.TLSPolicy)
	if err != nil {
		return nil, err
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(policy),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPSender{client: client}, nil
}

// Send builds m and delivers it in a single SMTP session.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg, err := Build(m)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func tlsPolicy(s string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(s) {
	case "", "mandatory":
		return gomail.TLSMandatory, nil
	case "opportunistic":
		return gomail.TLSOpportunistic, nil
	case "none", "notls":
		return gomail.NoTLS, nil
	default:
		return gomail.TLSMandatory, fmt.Errorf("unsupported MAIL_TLS_POLICY %q", s)
	}
}
