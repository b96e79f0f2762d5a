package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/activation"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/auth"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/config"
	internalhttp "github.com/gomolemo-esi-developer/tutorverse-identity/internal/http"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/identity"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/logger"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/mailer"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/metrics"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/quicklink"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/store"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/verification"
)

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}
	if cfg.RedisAddr == "" {
		log.Fatalf("REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.DynamoEndpoint != "" {
		// DynamoDB Local accepts any static credentials.
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		log.Fatalf("aws config failed: %v", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis ping failed: %v", err)
	}
	cancel()
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}()

	var provider identity.Provider
	switch cfg.IdentityBackend {
	case "local":
		provider = identity.NewLocalProvider(dynamoClient, cfg.UsersTable, cfg.DependencyTimeout)
	default:
		if cfg.CognitoPoolID == "" {
			log.Fatalf("COGNITO_USER_POOL_ID is required for the cognito backend")
		}
		provider = identity.NewCognitoProvider(
			cognitoidentityprovider.NewFromConfig(awsCfg), cfg.CognitoPoolID, cfg.DependencyTimeout)
	}

	var mail mailer.Mailer = mailer.Noop{}
	if cfg.SenderEmail != "" {
		mail = mailer.NewSESMailer(sesv2.NewFromConfig(awsCfg), cfg.SenderEmail, cfg.DependencyTimeout)
	}

	records := store.NewRecordStore(dynamoClient, cfg.StudentsTable, cfg.LecturersTable, cfg.DependencyTimeout)
	links := store.NewQuickLinkStore(dynamoClient, cfg.QuickLinksTable, cfg.DependencyTimeout)
	codes := store.NewCodeStore(redisClient, cfg.CodeTTL, cfg.DependencyTimeout)

	tokens := auth.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.ClockSkewLeeway)
	activations := activation.NewService(records, provider, tokens)
	quicklinks := quicklink.NewService(records, links, tokens, mail, cfg.QuickLinkTTL)
	verifications := verification.NewService(codes, mail, cfg.CodeMaxAttempts)

	appLog := logger.Setup(os.Stdout)
	server := internalhttp.NewServer(cfg, appLog, tokens, activations, quicklinks, verifications,
		metrics.New(prometheus.DefaultRegisterer))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("identity listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
