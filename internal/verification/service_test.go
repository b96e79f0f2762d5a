package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
)

type fakeCodeStore struct {
	mu       sync.Mutex
	codes    map[string]string
	attempts map[string]int64
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{
		codes:    make(map[string]string),
		attempts: make(map[string]int64),
	}
}

func key(purpose, email string) string { return purpose + ":" + email }

func (f *fakeCodeStore) Put(_ context.Context, purpose, email, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[key(purpose, email)] = code
	delete(f.attempts, key(purpose, email))
	return nil
}

func (f *fakeCodeStore) Bump(_ context.Context, purpose, email string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[key(purpose, email)]++
	return f.attempts[key(purpose, email)], nil
}

func (f *fakeCodeStore) Get(_ context.Context, purpose, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[key(purpose, email)]
	if !ok {
		return "", errs.New(errs.Validation, errs.CodeCodeExpired, "no active code")
	}
	return code, nil
}

func (f *fakeCodeStore) Delete(_ context.Context, purpose, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codes, key(purpose, email))
	delete(f.attempts, key(purpose, email))
	return nil
}

type captureMailer struct {
	mu       sync.Mutex
	lastCode string
}

func (m *captureMailer) SendVerificationCode(_ context.Context, _ string, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCode = code
	return nil
}

func (m *captureMailer) SendQuickLink(context.Context, string, string, time.Time) error {
	return nil
}

const email = "jane@test.com"

func TestIssueAndVerify(t *testing.T) {
	store := newFakeCodeStore()
	mail := &captureMailer{}
	svc := NewService(store, mail, 5)

	if err := svc.Issue(context.Background(), PurposeEmailVerify, email); err != nil {
		t.Fatalf("issue error: %v", err)
	}
	if len(mail.lastCode) != 6 {
		t.Fatalf("expected emailed 6-digit code, got %q", mail.lastCode)
	}

	if err := svc.Verify(context.Background(), PurposeEmailVerify, email, mail.lastCode); err != nil {
		t.Fatalf("verify error: %v", err)
	}

	// The code is consumed on success.
	err := svc.Verify(context.Background(), PurposeEmailVerify, email, mail.lastCode)
	if errs.CodeOf(err) != errs.CodeCodeExpired {
		t.Fatalf("expected code_expired after consume, got %v", err)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	store := newFakeCodeStore()
	mail := &captureMailer{}
	svc := NewService(store, mail, 5)

	if err := svc.Issue(context.Background(), PurposeEmailVerify, email); err != nil {
		t.Fatalf("issue error: %v", err)
	}

	err := svc.Verify(context.Background(), PurposeEmailVerify, email, "000000")
	if mail.lastCode == "000000" {
		t.Skip("generated code collided with the guess")
	}
	if !errs.IsKind(err, errs.Validation) || errs.CodeOf(err) != errs.CodeInvalidCode {
		t.Fatalf("expected invalid_code, got %v", err)
	}

	// A wrong guess does not consume the code.
	if err := svc.Verify(context.Background(), PurposeEmailVerify, email, mail.lastCode); err != nil {
		t.Fatalf("verify after wrong guess error: %v", err)
	}
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	store := newFakeCodeStore()
	mail := &captureMailer{}
	svc := NewService(store, mail, 3)

	if err := svc.Issue(context.Background(), PurposeEmailVerify, email); err != nil {
		t.Fatalf("issue error: %v", err)
	}
	wrong := "000000"
	if mail.lastCode == wrong {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		if err := svc.Verify(context.Background(), PurposeEmailVerify, email, wrong); errs.CodeOf(err) != errs.CodeInvalidCode {
			t.Fatalf("attempt %d: expected invalid_code, got %v", i+1, err)
		}
	}

	// Locked now, even with the correct code.
	err := svc.Verify(context.Background(), PurposeEmailVerify, email, mail.lastCode)
	if !errs.IsKind(err, errs.RateLimited) || errs.CodeOf(err) != errs.CodeTooManyAttempts {
		t.Fatalf("expected too_many_attempts, got %v", err)
	}

	// Reissue clears the lockout.
	if err := svc.Issue(context.Background(), PurposeEmailVerify, email); err != nil {
		t.Fatalf("reissue error: %v", err)
	}
	if err := svc.Verify(context.Background(), PurposeEmailVerify, email, mail.lastCode); err != nil {
		t.Fatalf("verify after reissue error: %v", err)
	}
}

func TestReissueOverwritesPriorCode(t *testing.T) {
	store := newFakeCodeStore()
	mail := &captureMailer{}
	svc := NewService(store, mail, 5)

	if err := svc.Issue(context.Background(), PurposeEmailVerify, email); err != nil {
		t.Fatalf("issue error: %v", err)
	}
	first := mail.lastCode

	if err := svc.Issue(context.Background(), PurposeEmailVerify, email); err != nil {
		t.Fatalf("reissue error: %v", err)
	}
	second := mail.lastCode

	if first == second {
		t.Skip("consecutive codes collided")
	}
	if err := svc.Verify(context.Background(), PurposeEmailVerify, email, first); errs.CodeOf(err) != errs.CodeInvalidCode {
		t.Fatalf("expected superseded code to fail, got %v", err)
	}
	if err := svc.Verify(context.Background(), PurposeEmailVerify, email, second); err != nil {
		t.Fatalf("expected fresh code to verify, got %v", err)
	}
}
