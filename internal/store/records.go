// Package store holds the DynamoDB and Redis persistence for identity
// records, quick-link tokens and verification codes. All methods run
// under a bounded timeout and map transport failures to the
// dependency_unavailable error kind.
package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/model"
)

// DynamoAPI is the subset of the DynamoDB client used here.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// RecordStore reads pre-provisioned role records and performs the
// single conditional write that links a record to an account. Records
// live in per-role tables whose hash key is the institutional number.
type RecordStore struct {
	client         DynamoAPI
	studentsTable  string
	lecturersTable string
	timeout        time.Duration
}

func NewRecordStore(client DynamoAPI, studentsTable, lecturersTable string, timeout time.Duration) *RecordStore {
	return &RecordStore{
		client:         client,
		studentsTable:  studentsTable,
		lecturersTable: lecturersTable,
		timeout:        timeout,
	}
}

func (s *RecordStore) table(role string) string {
	if role == model.RoleLecturer {
		return s.lecturersTable
	}
	return s.studentsTable
}

func (s *RecordStore) keyAttr(role string) string {
	if role == model.RoleLecturer {
		return "lecturerId"
	}
	return "studentId"
}

// GetRecord looks up a record by role and institutional number. A miss
// in the other role's table is indistinguishable from a plain miss.
func (s *RecordStore) GetRecord(ctx context.Context, role, number string) (model.IdentityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table(role)),
		Key: map[string]types.AttributeValue{
			s.keyAttr(role): &types.AttributeValueMemberS{Value: number},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.IdentityRecord{}, errs.Dependency(err)
	}
	if len(out.Item) == 0 {
		return model.IdentityRecord{}, errs.New(errs.NotEligible, errs.CodeRecordNotFound, "no matching record")
	}

	var rec model.IdentityRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return model.IdentityRecord{}, errs.Wrap(err, errs.Internal, "record_decode_failed", "could not decode record")
	}
	rec.Role = role
	rec.InstitutionalNumber = number
	return rec, nil
}

// LinkRecord sets linkedUserId and flips the status to activated, but
// only if the status is still pending at write time. The conditional
// write is what makes activation at-most-once under concurrent
// requests; the loser gets an already_activated conflict.
func (s *RecordStore) LinkRecord(ctx context.Context, role, number, accountID string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keyAttr := s.keyAttr(role)
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table(role)),
		Key: map[string]types.AttributeValue{
			keyAttr: &types.AttributeValueMemberS{Value: number},
		},
		ConditionExpression: aws.String("attribute_exists(#key) AND registrationStatus = :pending"),
		UpdateExpression:    aws.String("SET registrationStatus = :activated, linkedUserId = :uid, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#key": keyAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending":   &types.AttributeValueMemberS{Value: model.StatusPending},
			":activated": &types.AttributeValueMemberS{Value: model.StatusActivated},
			":uid":       &types.AttributeValueMemberS{Value: accountID},
			":now":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UTC().Unix(), 10)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return errs.New(errs.Conflict, errs.CodeAlreadyActivated, "record already activated")
		}
		return errs.Dependency(err)
	}
	return nil
}
