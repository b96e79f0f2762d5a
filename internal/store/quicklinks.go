package store

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/model"
)

// QuickLinkStore persists single-use login tokens keyed by token hash.
// expiresAt is registered as the table's TTL attribute; deletion by TTL
// is lazy, so callers still check expiry themselves.
type QuickLinkStore struct {
	client  DynamoAPI
	table   string
	timeout time.Duration
}

func NewQuickLinkStore(client DynamoAPI, table string, timeout time.Duration) *QuickLinkStore {
	return &QuickLinkStore{client: client, table: table, timeout: timeout}
}

func (s *QuickLinkStore) PutLink(ctx context.Context, link model.QuickLink) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	item, err := attributevalue.MarshalMap(link)
	if err != nil {
		return errs.Wrap(err, errs.Internal, "link_encode_failed", "could not encode link")
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return errs.Dependency(err)
	}
	return nil
}

func (s *QuickLinkStore) GetLink(ctx context.Context, tokenHash string) (model.QuickLink, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"tokenHash": &types.AttributeValueMemberS{Value: tokenHash},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.QuickLink{}, errs.Dependency(err)
	}
	if len(out.Item) == 0 {
		return model.QuickLink{}, errs.New(errs.Unauthorized, errs.CodeInvalidLink, "unknown link")
	}

	var link model.QuickLink
	if err := attributevalue.UnmarshalMap(out.Item, &link); err != nil {
		return model.QuickLink{}, errs.Wrap(err, errs.Internal, "link_decode_failed", "could not decode link")
	}
	return link, nil
}

// ConsumeLink flips used=false to true; the condition closes the replay
// window between check and mark, so at most one redemption wins.
func (s *QuickLinkStore) ConsumeLink(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"tokenHash": &types.AttributeValueMemberS{Value: tokenHash},
		},
		ConditionExpression: aws.String("attribute_exists(tokenHash) AND used = :unused"),
		UpdateExpression:    aws.String("SET used = :used"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":unused": &types.AttributeValueMemberBOOL{Value: false},
			":used":   &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return errs.New(errs.Unauthorized, errs.CodeLinkUsed, "link already used")
		}
		return errs.Dependency(err)
	}
	return nil
}
