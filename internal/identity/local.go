package identity

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/crypto"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
)

// LocalDynamoAPI is the subset of the DynamoDB client the local
// provider needs.
type LocalDynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type localUser struct {
	UserID       string `dynamodbav:"userId"`
	Email        string `dynamodbav:"email"`
	PasswordHash string `dynamodbav:"passwordHash"`
	Role         string `dynamodbav:"role"`
	CreatedAt    int64  `dynamodbav:"createdAt"`
}

// LocalProvider stores bcrypt-hashed credentials in a DynamoDB users
// table. Development stand-in for Cognito; not for production use.
type LocalProvider struct {
	client  LocalDynamoAPI
	table   string
	timeout time.Duration
}

func NewLocalProvider(client LocalDynamoAPI, table string, timeout time.Duration) *LocalProvider {
	return &LocalProvider{client: client, table: table, timeout: timeout}
}

func (p *LocalProvider) CreateAccount(ctx context.Context, email, password, role string) (string, error) {
	if len(password) < 8 {
		return "", ErrWeakCredential
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return "", errs.Wrap(err, errs.Internal, "password_hash_failed", "could not hash password")
	}

	user := localUser{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC().Unix(),
	}
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return "", errs.Wrap(err, errs.Internal, "user_encode_failed", "could not encode user")
	}

	// Email uniqueness guard: a deterministic item keyed by the email.
	// The conditional put fails if any prior account claimed it.
	if _, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.table),
		Item: map[string]types.AttributeValue{
			"userId":  &types.AttributeValueMemberS{Value: "email#" + email},
			"ownerId": &types.AttributeValueMemberS{Value: user.UserID},
		},
		ConditionExpression: aws.String("attribute_not_exists(userId)"),
	}); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return "", ErrDuplicateAccount
		}
		return "", errs.Dependency(err)
	}

	if _, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.table),
		Item:      item,
	}); err != nil {
		return "", errs.Dependency(err)
	}

	return user.UserID, nil
}
