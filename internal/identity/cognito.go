package identity

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
)

// CognitoAPI is the subset of the Cognito client used here.
type CognitoAPI interface {
	AdminCreateUser(ctx context.Context, params *cognitoidentityprovider.AdminCreateUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminCreateUserOutput, error)
	AdminSetUserPassword(ctx context.Context, params *cognitoidentityprovider.AdminSetUserPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminSetUserPasswordOutput, error)
}

// CognitoProvider creates accounts in a Cognito user pool. The invite
// email is suppressed and the password is set permanent immediately, so
// the account is usable as soon as activation completes.
type CognitoProvider struct {
	client  CognitoAPI
	poolID  string
	timeout time.Duration
}

func NewCognitoProvider(client CognitoAPI, poolID string, timeout time.Duration) *CognitoProvider {
	return &CognitoProvider{client: client, poolID: poolID, timeout: timeout}
}

func (p *CognitoProvider) CreateAccount(ctx context.Context, email, password, role string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.client.AdminCreateUser(ctx, &cognitoidentityprovider.AdminCreateUserInput{
		UserPoolId:    aws.String(p.poolID),
		Username:      aws.String(email),
		MessageAction: ciptypes.MessageActionTypeSuppress,
		UserAttributes: []ciptypes.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
			{Name: aws.String("email_verified"), Value: aws.String("true")},
			{Name: aws.String("custom:role"), Value: aws.String(role)},
		},
	})
	if err != nil {
		return "", mapCognitoError(err)
	}

	if _, err := p.client.AdminSetUserPassword(ctx, &cognitoidentityprovider.AdminSetUserPasswordInput{
		UserPoolId: aws.String(p.poolID),
		Username:   aws.String(email),
		Password:   aws.String(password),
		Permanent:  true,
	}); err != nil {
		// The account exists but has no usable password. Surfaced to
		// the caller instead of retried; cleanup is an operator action.
		return "", mapCognitoError(err)
	}

	return subjectOf(out.User, email), nil
}

func mapCognitoError(err error) error {
	var exists *ciptypes.UsernameExistsException
	if errors.As(err, &exists) {
		return ErrDuplicateAccount
	}
	var weak *ciptypes.InvalidPasswordException
	if errors.As(err, &weak) {
		return ErrWeakCredential
	}
	return errs.Dependency(err)
}

func subjectOf(user *ciptypes.UserType, fallback string) string {
	if user == nil {
		return fallback
	}
	for _, attr := range user.Attributes {
		if aws.ToString(attr.Name) == "sub" {
			return aws.ToString(attr.Value)
		}
	}
	return aws.ToString(user.Username)
}
