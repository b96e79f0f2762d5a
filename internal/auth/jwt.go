package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

type Claims struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Service signs and verifies access/refresh pairs. It is stateless: a
// token is valid iff its signature checks out and it has not expired.
// The secret is injected once at startup and never mutated.
type Service struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration

	now func() time.Time
}

func NewService(secret, issuer string, accessTTL, refreshTTL, leeway time.Duration) *Service {
	return &Service{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		leeway:     leeway,
		now:        time.Now,
	}
}

// Issue mints an access/refresh pair bound to the given subject.
func (s *Service) Issue(accountID, role, email string) (TokenPair, error) {
	now := s.now().UTC()

	access, err := s.sign(accountID, role, email, tokenUseAccess, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, errs.Wrap(err, errs.Internal, "token_sign_failed", "could not sign token")
	}
	refresh, err := s.sign(accountID, role, email, tokenUseRefresh, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, errs.Wrap(err, errs.Internal, "token_sign_failed", "could not sign token")
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(s.accessTTL).Unix(),
	}, nil
}

func (s *Service) sign(accountID, role, email, use string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Role:     role,
		Email:    email,
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses any token issued by this service. Expiry is checked
// against the injected clock with the configured leeway (zero by default).
func (s *Service) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, errs.Wrap(err, errs.Unauthorized, errs.CodeTokenExpired, "token expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errs.Wrap(err, errs.Unauthorized, errs.CodeBadSignature, "token signature invalid")
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errs.Wrap(err, errs.Unauthorized, errs.CodeMalformedToken, "token malformed")
		default:
			return nil, errs.Wrap(err, errs.Unauthorized, errs.CodeInvalidToken, "invalid token")
		}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errs.New(errs.Unauthorized, errs.CodeInvalidToken, "invalid token")
	}
	return claims, nil
}

// VerifyAccess rejects refresh tokens presented as access tokens.
func (s *Service) VerifyAccess(tokenString string) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != tokenUseAccess {
		return nil, errs.New(errs.Unauthorized, errs.CodeInvalidToken, "not an access token")
	}
	return claims, nil
}

// Refresh verifies a refresh token and issues a fresh pair for the same
// subject. Refresh tokens are not rotated or denylisted; a leaked token
// stays valid until its own expiry.
func (s *Service) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := s.Verify(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.TokenUse != tokenUseRefresh {
		return TokenPair{}, errs.New(errs.Unauthorized, errs.CodeInvalidToken, "not a refresh token")
	}
	return s.Issue(claims.Subject, claims.Role, claims.Email)
}

// HasRole reports whether the claims carry one of the required roles.
// Pure function: no I/O, no mutation.
func HasRole(claims *Claims, required ...string) bool {
	if claims == nil {
		return false
	}
	for _, role := range required {
		if claims.Role == role {
			return true
		}
	}
	return false
}
