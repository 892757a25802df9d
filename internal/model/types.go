package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered identity. Active becomes true once the
// phone number has been verified via OTP; only active users may open a
// messaging connection.
type User struct {
	ID          uuid.UUID
	CountryCode string
	PhoneNumber string
	Active      bool
	CreatedAt   time.Time
}

// Phone returns the full E.164-style number the OTP flow addresses.
func (u User) Phone() string {
	return u.CountryCode + u.PhoneNumber
}

// OtpSession represents an OTP session for phone verification
type OtpSession struct {
	ID            uuid.UUID
	PhoneNumber   string
	OTPHash       []byte
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	CreatedAt     time.Time
	AttemptCount  int
	LastAttemptAt *time.Time
	RequestIP     *string
	UserAgent     *string
}

// RefreshSession represents a refresh token session
type RefreshSession struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}
