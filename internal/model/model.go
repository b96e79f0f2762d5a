package model

const (
	RoleStudent  = "student"
	RoleLecturer = "lecturer"
)

const (
	StatusPending   = "pending"
	StatusActivated = "activated"
)

func ValidRole(role string) bool {
	return role == RoleStudent || role == RoleLecturer
}

// IdentityRecord is a pre-provisioned placeholder for a future login,
// keyed by the role-specific institutional number. Records are created
// by the admin service in pending state and linked exactly once here.
type IdentityRecord struct {
	InstitutionalNumber string `dynamodbav:"-" json:"institutionalNumber"`
	Role                string `dynamodbav:"-" json:"role"`
	Email               string `dynamodbav:"email" json:"email"`
	FirstName           string `dynamodbav:"firstName" json:"firstName"`
	LastName            string `dynamodbav:"lastName" json:"lastName"`
	LinkedAccountID     string `dynamodbav:"linkedUserId,omitempty" json:"linkedAccountId,omitempty"`
	RegistrationStatus  string `dynamodbav:"registrationStatus" json:"registrationStatus"`
	CreatedAt           int64  `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt           int64  `dynamodbav:"updatedAt" json:"updatedAt"`
}

func (r IdentityRecord) Pending() bool {
	return r.RegistrationStatus == StatusPending
}

func (r IdentityRecord) Activated() bool {
	return r.RegistrationStatus == StatusActivated
}

// Account holds the identity-provider subject for a claimed record. The
// provider owns the credentials; we never see password material.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// QuickLink is a single-use passwordless login token, stored by the
// sha256 hash of the raw token. ExpiresAt doubles as the DynamoDB TTL
// attribute (unix seconds).
type QuickLink struct {
	TokenHash           string `dynamodbav:"tokenHash"`
	InstitutionalNumber string `dynamodbav:"institutionalNumber"`
	Role                string `dynamodbav:"role"`
	Email               string `dynamodbav:"email"`
	ExpiresAt           int64  `dynamodbav:"expiresAt"`
	Used                bool   `dynamodbav:"used"`
	CreatedAt           int64  `dynamodbav:"createdAt"`
}
