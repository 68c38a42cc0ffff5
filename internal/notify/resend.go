// Package notify sends transactional email through Resend.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
)

const provider = "resend"

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type emailService interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type resendSender struct {
	emails emailService
	from   string
}

func NewResendSender(cfg config.EmailConfig) Sender {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &resendSender{emails: client.Emails, from: cfg.From}
}

func (s *resendSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("notify: recipient is required")
	}

	resp, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return apperr.Upstream(provider, fmt.Errorf("send %q: %w", msg.Subject, err))
	}

	log.Info().Str("email_id", resp.Id).Str("subject", msg.Subject).Msg("notify: email sent")
	return nil
}
