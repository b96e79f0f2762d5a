package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string

	AWSRegion         string
	DynamoEndpoint    string
	StudentsTable     string
	LecturersTable    string
	QuickLinksTable   string
	UsersTable        string
	IdentityBackend   string
	CognitoPoolID     string
	SenderEmail       string
	RedisAddr         string
	RedisPassword     string
	DependencyTimeout time.Duration

	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ClockSkewLeeway time.Duration

	QuickLinkTTL     time.Duration
	CodeTTL          time.Duration
	CodeMaxAttempts  int
	CodeIssueLimit   int
	CodeIssueWindow  time.Duration
	RedeemRateLimit  int
	RedeemRateWindow time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8084"),

		AWSRegion:         getenv("AWS_REGION", "us-east-2"),
		DynamoEndpoint:    getenv("DYNAMO_ENDPOINT", ""),
		StudentsTable:     getenv("STUDENTS_TABLE", "aitutor_students"),
		LecturersTable:    getenv("LECTURERS_TABLE", "aitutor_lecturers"),
		QuickLinksTable:   getenv("QUICK_LINKS_TABLE", "aitutor_quick_links"),
		UsersTable:        getenv("USERS_TABLE", "aitutor_users"),
		IdentityBackend:   getenv("IDENTITY_BACKEND", "cognito"),
		CognitoPoolID:     getenv("COGNITO_USER_POOL_ID", ""),
		SenderEmail:       getenv("SENDER_EMAIL", ""),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		DependencyTimeout: getenvDuration("DEPENDENCY_TIMEOUT", 5*time.Second),

		JWTSecret:       getenv("JWT_SECRET", ""),
		JWTIssuer:       getenv("JWT_ISSUER", "tutorverse-identity"),
		AccessTokenTTL:  getenvDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL: getenvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ClockSkewLeeway: getenvDuration("CLOCK_SKEW_LEEWAY", 0),

		QuickLinkTTL:     getenvDuration("QUICK_LINK_TTL", 10*time.Minute),
		CodeTTL:          getenvDuration("VERIFICATION_CODE_TTL", 24*time.Hour),
		CodeMaxAttempts:  getenvInt("VERIFICATION_CODE_MAX_ATTEMPTS", 5),
		CodeIssueLimit:   getenvInt("VERIFICATION_CODE_ISSUE_LIMIT", 5),
		CodeIssueWindow:  getenvDuration("VERIFICATION_CODE_ISSUE_WINDOW", time.Minute),
		RedeemRateLimit:  getenvInt("QUICK_LINK_REDEEM_LIMIT", 10),
		RedeemRateWindow: getenvDuration("QUICK_LINK_REDEEM_WINDOW", time.Minute),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
