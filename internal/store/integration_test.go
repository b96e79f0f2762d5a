package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/model"
)

// These tests run against real backends (DynamoDB Local and Redis) so
// the condition expressions and attribute marshalling are exercised as
// written, not as re-implemented by fakes.

func newDynamoClient(t *testing.T) *dynamodb.Client {
	t.Helper()
	endpoint := os.Getenv("DYNAMO_ENDPOINT")
	if endpoint == "" {
		t.Skip("set DYNAMO_ENDPOINT to run")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-2"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")),
	)
	if err != nil {
		t.Fatalf("aws config failed: %v", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}

func createTable(t *testing.T, client *dynamodb.Client, prefix, hashKey string) string {
	t.Helper()
	ctx := context.Background()
	table := fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())

	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(hashKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
		},
	})
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, 30*time.Second); err != nil {
		t.Fatalf("table not ready: %v", err)
	}
	t.Cleanup(func() {
		_, _ = client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{TableName: aws.String(table)})
	})
	return table
}

func TestRecordStoreLinkAtMostOnce(t *testing.T) {
	client := newDynamoClient(t)
	table := createTable(t, client, "identity_students_test", "studentId")
	ctx := context.Background()

	_, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item: map[string]types.AttributeValue{
			"studentId":          &types.AttributeValueMemberS{Value: "S001"},
			"email":              &types.AttributeValueMemberS{Value: "jane@test.com"},
			"firstName":          &types.AttributeValueMemberS{Value: "Jane"},
			"lastName":           &types.AttributeValueMemberS{Value: "Doe"},
			"registrationStatus": &types.AttributeValueMemberS{Value: model.StatusPending},
			"createdAt":          &types.AttributeValueMemberN{Value: "1700000000"},
		},
	})
	if err != nil {
		t.Fatalf("seed record failed: %v", err)
	}

	records := NewRecordStore(client, table, table, 5*time.Second)

	rec, err := records.GetRecord(ctx, model.RoleStudent, "S001")
	if err != nil {
		t.Fatalf("get record failed: %v", err)
	}
	if rec.Email != "jane@test.com" || !rec.Pending() {
		t.Fatalf("record did not round-trip: %+v", rec)
	}

	const racers = 8
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- records.LinkRecord(ctx, model.RoleStudent, "S001",
				fmt.Sprintf("acct-%d", i), time.Now())
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errs.IsKind(err, errs.Conflict):
			conflicts++
		default:
			t.Fatalf("unexpected link error: %v", err)
		}
	}
	if wins != 1 || conflicts != racers-1 {
		t.Fatalf("expected exactly one winner, got %d wins %d conflicts", wins, conflicts)
	}

	rec, err = records.GetRecord(ctx, model.RoleStudent, "S001")
	if err != nil {
		t.Fatalf("get after link failed: %v", err)
	}
	if !rec.Activated() || rec.LinkedAccountID == "" || rec.UpdatedAt == 0 {
		t.Fatalf("link did not persist: %+v", rec)
	}

	// The attribute_exists guard keeps a link from conjuring a record.
	if err := records.LinkRecord(ctx, model.RoleStudent, "S999", "acct-x", time.Now()); !errs.IsKind(err, errs.Conflict) {
		t.Fatalf("expected conflict for missing record, got %v", err)
	}
	if _, err := records.GetRecord(ctx, model.RoleStudent, "S999"); errs.CodeOf(err) != errs.CodeRecordNotFound {
		t.Fatalf("expected record_not_found, got %v", err)
	}
}

func TestQuickLinkStoreConsumeSingleUse(t *testing.T) {
	client := newDynamoClient(t)
	table := createTable(t, client, "identity_quick_links_test", "tokenHash")
	ctx := context.Background()

	links := NewQuickLinkStore(client, table, 5*time.Second)
	link := model.QuickLink{
		TokenHash:           "hash-1",
		InstitutionalNumber: "S001",
		Role:                model.RoleStudent,
		Email:               "jane@test.com",
		ExpiresAt:           time.Now().Add(10 * time.Minute).Unix(),
		CreatedAt:           time.Now().Unix(),
	}
	if err := links.PutLink(ctx, link); err != nil {
		t.Fatalf("put link failed: %v", err)
	}

	stored, err := links.GetLink(ctx, "hash-1")
	if err != nil {
		t.Fatalf("get link failed: %v", err)
	}
	if stored.Used || stored.Email != "jane@test.com" {
		t.Fatalf("link did not round-trip: %+v", stored)
	}

	const racers = 8
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- links.ConsumeLink(ctx, "hash-1")
		}()
	}
	wg.Wait()
	close(results)

	wins, used := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errs.CodeOf(err) == errs.CodeLinkUsed:
			used++
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if wins != 1 || used != racers-1 {
		t.Fatalf("expected exactly one consumer, got %d wins %d used", wins, used)
	}

	stored, err = links.GetLink(ctx, "hash-1")
	if err != nil {
		t.Fatalf("get after consume failed: %v", err)
	}
	if !stored.Used {
		t.Fatalf("consume did not persist")
	}

	if _, err := links.GetLink(ctx, "no-such-hash"); errs.CodeOf(err) != errs.CodeInvalidLink {
		t.Fatalf("expected invalid_link, got %v", err)
	}
}

func TestCodeStoreAttemptCounting(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("set REDIS_ADDR to run")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}

	codes := NewCodeStore(client, time.Minute, 5*time.Second)
	email := fmt.Sprintf("it-%d@test.com", time.Now().UnixNano())
	t.Cleanup(func() { _ = codes.Delete(ctx, "email_verify", email) })

	if err := codes.Put(ctx, "email_verify", email, "123456"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	stored, err := codes.Get(ctx, "email_verify", email)
	if err != nil || stored != "123456" {
		t.Fatalf("get returned %q, %v", stored, err)
	}

	// INCR must hand every concurrent caller a distinct count.
	const guesses = 8
	counts := make(chan int64, guesses)
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := codes.Bump(ctx, "email_verify", email)
			if err != nil {
				t.Errorf("bump failed: %v", err)
				return
			}
			counts <- n
		}()
	}
	wg.Wait()
	close(counts)

	seen := make(map[int64]bool)
	for n := range counts {
		if seen[n] {
			t.Fatalf("duplicate attempt count %d", n)
		}
		seen[n] = true
	}
	if len(seen) != guesses || !seen[guesses] {
		t.Fatalf("expected counts 1..%d, got %v", guesses, seen)
	}

	// Reissue resets the counter with the code.
	if err := codes.Put(ctx, "email_verify", email, "654321"); err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	n, err := codes.Bump(ctx, "email_verify", email)
	if err != nil || n != 1 {
		t.Fatalf("expected counter reset to 1, got %d, %v", n, err)
	}

	if err := codes.Delete(ctx, "email_verify", email); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := codes.Get(ctx, "email_verify", email); errs.CodeOf(err) != errs.CodeCodeExpired {
		t.Fatalf("expected code_expired, got %v", err)
	}
}
