package notify

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendFunc func(*mail.SGMailV3) (*rest.Response, error)

// EmailSender delivers alerts through SendGrid. An empty API key means the
// channel is unconfigured; delivery fails, it does not panic.
type EmailSender struct {
	from string
	send sendFunc
}

func NewEmailSender(apiKey, fromEmail string) *EmailSender {
	s := &EmailSender{from: fromEmail}
	if apiKey != "" {
		client := sendgrid.NewSendClient(apiKey)
		s.send = client.Send
	}
	return s
}

func newEmailSenderWithSend(fromEmail string, send sendFunc) *EmailSender {
	return &EmailSender{from: fromEmail, send: send}
}

func (s *EmailSender) Deliver(_ context.Context, a Alert) error {
	if s.send == nil {
		return errors.New("sendgrid not configured")
	}
	if a.To == "" {
		return errors.New("missing email recipient")
	}

	from := mail.NewEmail("FareWatch", s.from)
	to := mail.NewEmail("", a.To)
	msg := mail.NewSingleEmail(from, a.subject(), to, a.plainText(), a.html())

	resp, err := s.send(msg)
	if err != nil {
		return errors.Wrap(err, "sendgrid send")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("sendgrid http %d", resp.StatusCode)
	}
	return nil
}
