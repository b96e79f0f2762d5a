// Package mailer delivers verification codes and quick links by email.
// Delivery is fire-and-forget: failures are logged by callers, never
// surfaced to the end user.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendQuickLink(ctx context.Context, email, token string, expiresAt time.Time) error
}

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESMailer struct {
	client  SESAPI
	sender  string
	timeout time.Duration
}

func NewSESMailer(client SESAPI, sender string, timeout time.Duration) *SESMailer {
	return &SESMailer{client: client, sender: sender, timeout: timeout}
}

func (m *SESMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	body := fmt.Sprintf("Your TutorVerse verification code is %s. It expires in 24 hours.", code)
	return m.send(ctx, email, "Your TutorVerse verification code", body)
}

func (m *SESMailer) SendQuickLink(ctx context.Context, email, token string, expiresAt time.Time) error {
	body := fmt.Sprintf(
		"Use this one-time sign-in token before %s: %s",
		expiresAt.UTC().Format(time.RFC3339), token,
	)
	return m.send(ctx, email, "Your TutorVerse sign-in link", body)
}

func (m *SESMailer) send(ctx context.Context, to, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.sender),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(body)},
				},
			},
		},
	})
	return err
}

// Noop is used when no sender address is configured.
type Noop struct{}

func (Noop) SendVerificationCode(context.Context, string, string) error { return nil }

func (Noop) SendQuickLink(context.Context, string, string, time.Time) error { return nil }
