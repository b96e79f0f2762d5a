// Package verification runs the email verification code flow:
// issued → consumed | expired | locked.
package verification

import (
	"context"
	"crypto/subtle"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/crypto"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/logger"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/mailer"
)

// PurposeEmailVerify is the only purpose issued over HTTP today; the
// store keys by purpose so new flows (password reset) can share it.
const PurposeEmailVerify = "email_verify"

type CodeStore interface {
	Put(ctx context.Context, purpose, email, code string) error
	Bump(ctx context.Context, purpose, email string) (int64, error)
	Get(ctx context.Context, purpose, email string) (string, error)
	Delete(ctx context.Context, purpose, email string) error
}

type Service struct {
	codes       CodeStore
	mail        mailer.Mailer
	maxAttempts int64
}

func NewService(codes CodeStore, mail mailer.Mailer, maxAttempts int) *Service {
	return &Service{codes: codes, mail: mail, maxAttempts: int64(maxAttempts)}
}

// Issue generates a fresh 6-digit code. A prior code for the same
// address is overwritten and its attempt count reset: last writer wins.
func (s *Service) Issue(ctx context.Context, purpose, email string) error {
	code, err := crypto.NewNumericCode()
	if err != nil {
		return errs.Wrap(err, errs.Internal, "code_generate_failed", "could not generate code")
	}
	if err := s.codes.Put(ctx, purpose, email, code); err != nil {
		return err
	}
	if err := s.mail.SendVerificationCode(ctx, email, code); err != nil {
		logger.FromContext(ctx).Warn("verification email failed", "error", err)
	}
	return nil
}

// Verify counts the attempt before looking at the code, so concurrent
// guesses cannot slip under the lockout. A match consumes the code.
func (s *Service) Verify(ctx context.Context, purpose, email, submitted string) error {
	attempts, err := s.codes.Bump(ctx, purpose, email)
	if err != nil {
		return err
	}
	if attempts > s.maxAttempts {
		_ = s.codes.Delete(ctx, purpose, email)
		return errs.New(errs.RateLimited, errs.CodeTooManyAttempts, "too many attempts")
	}

	stored, err := s.codes.Get(ctx, purpose, email)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) != 1 {
		return errs.New(errs.Validation, errs.CodeInvalidCode, "code does not match")
	}

	return s.codes.Delete(ctx, purpose, email)
}
