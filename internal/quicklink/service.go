// Package quicklink issues and redeems single-use passwordless login
// tokens for activated records.
package quicklink

import (
	"context"
	"strings"
	"time"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/auth"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/crypto"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/logger"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/mailer"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/model"
)

type RecordLookup interface {
	GetRecord(ctx context.Context, role, number string) (model.IdentityRecord, error)
}

type LinkStore interface {
	PutLink(ctx context.Context, link model.QuickLink) error
	GetLink(ctx context.Context, tokenHash string) (model.QuickLink, error)
	ConsumeLink(ctx context.Context, tokenHash string) error
}

type Service struct {
	records RecordLookup
	links   LinkStore
	tokens  *auth.Service
	mail    mailer.Mailer
	ttl     time.Duration

	now func() time.Time
}

func NewService(records RecordLookup, links LinkStore, tokens *auth.Service, mail mailer.Mailer, ttl time.Duration) *Service {
	return &Service{
		records: records,
		links:   links,
		tokens:  tokens,
		mail:    mail,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Generate mints a quick link for an activated record. Only the sha256
// hash is stored; the raw token goes out once, by email, and is
// returned to the caller for rendering (URL, QR).
func (s *Service) Generate(ctx context.Context, role, number string) (string, time.Time, error) {
	rec, err := s.records.GetRecord(ctx, role, number)
	if err != nil {
		return "", time.Time{}, err
	}
	if !rec.Activated() || rec.LinkedAccountID == "" {
		// A passwordless login needs a linked account to sign for.
		return "", time.Time{}, errs.New(errs.NotEligible, errs.CodeRecordNotActivated, "record not activated")
	}

	token, err := crypto.NewToken()
	if err != nil {
		return "", time.Time{}, errs.Wrap(err, errs.Internal, "token_generate_failed", "could not generate token")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	link := model.QuickLink{
		TokenHash:           crypto.HashToken(token),
		InstitutionalNumber: number,
		Role:                role,
		Email:               rec.Email,
		ExpiresAt:           expiresAt.Unix(),
		Used:                false,
		CreatedAt:           now.Unix(),
	}
	if err := s.links.PutLink(ctx, link); err != nil {
		return "", time.Time{}, err
	}

	if err := s.mail.SendQuickLink(ctx, rec.Email, token, expiresAt); err != nil {
		logger.FromContext(ctx).Warn("quick link email failed", "error", err)
	}

	return token, expiresAt, nil
}

// Redeem exchanges a raw quick-link token for a token pair. The
// conditional consume runs after all checks pass and before tokens are
// issued, so two concurrent redemptions can never both succeed.
func (s *Service) Redeem(ctx context.Context, token, email string) (auth.TokenPair, error) {
	link, err := s.links.GetLink(ctx, crypto.HashToken(token))
	if err != nil {
		return auth.TokenPair{}, err
	}

	if !strings.EqualFold(strings.TrimSpace(email), link.Email) {
		return auth.TokenPair{}, errs.New(errs.Validation, errs.CodeEmailMismatch, "email does not match link")
	}
	if s.now().UTC().Unix() >= link.ExpiresAt {
		return auth.TokenPair{}, errs.New(errs.Unauthorized, errs.CodeLinkExpired, "link expired")
	}
	if link.Used {
		return auth.TokenPair{}, errs.New(errs.Unauthorized, errs.CodeLinkUsed, "link already used")
	}

	if err := s.links.ConsumeLink(ctx, link.TokenHash); err != nil {
		return auth.TokenPair{}, err
	}

	rec, err := s.records.GetRecord(ctx, link.Role, link.InstitutionalNumber)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if rec.LinkedAccountID == "" {
		return auth.TokenPair{}, errs.New(errs.Unauthorized, errs.CodeInvalidLink, "record no longer linked")
	}

	return s.tokens.Issue(rec.LinkedAccountID, link.Role, rec.Email)
}
