// internal/notification/channel/email.go
package channel

import (
	"context"
	"errors"
	"fmt"

	"tgminiapp-notifier/internal/common/validation"
	"tgminiapp-notifier/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	mail "gopkg.in/mail.v2"
)

// EmailMessage is what a Transport puts on the wire.
type EmailMessage struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

type Transport interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// EmailSender resolves the recipient's address and opt-in before handing the
// rendered message to its transport.
type EmailSender struct {
	directory Directory
	transport Transport
	from      string
}

func NewEmailSender(directory Directory, transport Transport, from string) *EmailSender {
	return &EmailSender{directory: directory, transport: transport, from: from}
}

func (s *EmailSender) Send(ctx context.Context, n *models.Notification) error {
	profile, err := s.directory.Lookup(ctx, n.Recipient.UserID)
	if err != nil {
		return AsSendError(models.ChannelEmail, err)
	}
	if !profile.EmailNotifications {
		// Opted out: the channel does not apply to this recipient.
		return nil
	}
	if profile.Email == "" {
		forgetProfile(ctx, s.directory, n.Recipient.UserID)
		return newSendError(models.ChannelEmail, "recipient %s has no email address", n.Recipient.UserID)
	}
	if !validation.ValidateEmail(profile.Email) {
		forgetProfile(ctx, s.directory, n.Recipient.UserID)
		return newSendError(models.ChannelEmail, "recipient %s has an invalid email address", n.Recipient.UserID)
	}

	msg := EmailMessage{
		From:     s.from,
		To:       profile.Email,
		Subject:  n.Title,
		HTMLBody: renderEmailHTML(n),
		TextBody: renderText(n),
	}
	if err := s.transport.SendEmail(ctx, msg); err != nil {
		return AsSendError(models.ChannelEmail, err)
	}
	return nil
}

// SESAPI is the slice of the SES client the transport uses.
type SESAPI interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESTransport struct {
	client SESAPI
}

func NewSESTransport(client SESAPI) *SESTransport {
	return &SESTransport{client: client}
}

func (t *SESTransport) SendEmail(ctx context.Context, msg EmailMessage) error {
	input := &ses.SendEmailInput{
		Source:      aws.String(msg.From),
		Destination: &sestypes.Destination{ToAddresses: []string{msg.To}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				Text: &sestypes.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")},
			},
		},
	}
	if _, err := t.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}
	return nil
}

// MailDialer is satisfied by *mail.Dialer.
type MailDialer interface {
	DialAndSend(m ...*mail.Message) error
}

type SMTPTransport struct {
	dialer MailDialer
}

func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{dialer: mail.NewDialer(host, port, username, password)}
}

func NewSMTPTransportWithDialer(dialer MailDialer) *SMTPTransport {
	return &SMTPTransport{dialer: dialer}
}

func (t *SMTPTransport) SendEmail(ctx context.Context, msg EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before sending email: %w", err)
	}

	m := mail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.TextBody)
	m.AddAlternative("text/html", msg.HTMLBody)

	// DialAndSend has no context; run it aside so a deadline still returns.
	done := make(chan error, 1)
	go func() { done <- t.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("smtp send abandoned"), ctx.Err())
	}
}
