// Package activation implements the one-time claim of a pre-provisioned
// identity record: eligibility check, identity-provider account
// creation, and the conditional link that flips the record to activated.
package activation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/auth"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/identity"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/logger"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/model"
)

// RecordStore is the narrow slice of persistence activation needs.
type RecordStore interface {
	GetRecord(ctx context.Context, role, number string) (model.IdentityRecord, error)
	LinkRecord(ctx context.Context, role, number, accountID string, now time.Time) error
}

type Service struct {
	records  RecordStore
	provider identity.Provider
	tokens   *auth.Service
}

func NewService(records RecordStore, provider identity.Provider, tokens *auth.Service) *Service {
	return &Service{records: records, provider: provider, tokens: tokens}
}

const (
	ReasonNotFound         = "not_found"
	ReasonAlreadyActivated = "already_activated"
)

type Eligibility struct {
	Eligible bool
	Reason   string
	Record   *model.IdentityRecord
}

// CheckEligibility reports whether a record can still be claimed. It
// never mutates state, and a record provisioned under a different role
// looks exactly like a missing record.
func (s *Service) CheckEligibility(ctx context.Context, role, number string) (Eligibility, error) {
	rec, err := s.records.GetRecord(ctx, role, number)
	if err != nil {
		if errs.IsKind(err, errs.NotEligible) {
			return Eligibility{Eligible: false, Reason: ReasonNotFound}, nil
		}
		return Eligibility{}, err
	}
	if rec.Activated() {
		return Eligibility{Eligible: false, Reason: ReasonAlreadyActivated}, nil
	}
	return Eligibility{Eligible: true, Record: &rec}, nil
}

type ActivateInput struct {
	Role                string
	InstitutionalNumber string
	Email               string
	Password            string
	FirstName           string
	LastName            string
}

type Result struct {
	Account model.Account
	Record  model.IdentityRecord
	Tokens  auth.TokenPair
}

// Activate claims a pending record. Order matters: eligibility and
// email match are verified before the provider account exists, and the
// conditional link is the only write. If the link loses a race the
// created account stays orphaned; there is no rollback, because account
// creation is not idempotent and must not be retried.
func (s *Service) Activate(ctx context.Context, in ActivateInput) (Result, error) {
	rec, err := s.records.GetRecord(ctx, in.Role, in.InstitutionalNumber)
	if err != nil {
		return Result{}, err
	}
	if rec.Activated() {
		return Result{}, errs.New(errs.Conflict, errs.CodeAlreadyActivated, "record already activated")
	}

	email := strings.TrimSpace(strings.ToLower(in.Email))
	if !strings.EqualFold(email, strings.TrimSpace(rec.Email)) {
		// The stored email is never echoed back.
		return Result{}, errs.New(errs.NotEligible, errs.CodeEmailMismatch, "email does not match record")
	}

	accountID, err := s.provider.CreateAccount(ctx, email, in.Password, in.Role)
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateAccount) {
			return Result{}, errs.New(errs.Conflict, errs.CodeAccountExists, "account already exists")
		}
		if errors.Is(err, identity.ErrWeakCredential) {
			return Result{}, errs.New(errs.Validation, errs.CodeWeakPassword, "password does not meet policy")
		}
		return Result{}, err
	}

	now := time.Now().UTC()
	if err := s.records.LinkRecord(ctx, in.Role, in.InstitutionalNumber, accountID, now); err != nil {
		if errs.IsKind(err, errs.Conflict) {
			logger.FromContext(ctx).Warn("activation race lost, provider account orphaned",
				"role", in.Role, "account_id", accountID)
		}
		return Result{}, err
	}

	pair, err := s.tokens.Issue(accountID, in.Role, email)
	if err != nil {
		return Result{}, err
	}

	rec.LinkedAccountID = accountID
	rec.RegistrationStatus = model.StatusActivated
	rec.UpdatedAt = now.Unix()

	return Result{
		Account: model.Account{ID: accountID, Email: email, Role: in.Role},
		Record:  rec,
		Tokens:  pair,
	}, nil
}
