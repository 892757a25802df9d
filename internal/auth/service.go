package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/utopiachat/relay/internal/model"
	"github.com/utopiachat/relay/internal/repo"
)

const refreshTokenExpiry = 30 * 24 * time.Hour

// ErrRefreshTokenReuseDetected is returned when a revoked refresh token is
// presented again; all sessions for the user are revoked in response.
var ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")

// AuthService orchestrates authentication operations and acts as the auth
// collaborator the relay connect path calls into.
type AuthService struct {
	otpProvider OtpProvider
	jwtService  *JWTService
	userRepo    repo.UserRepo
	refreshRepo repo.RefreshRepo
}

// NewAuthService creates a new auth service
func NewAuthService(
	otpProvider OtpProvider,
	jwtService *JWTService,
	userRepo repo.UserRepo,
	refreshRepo repo.RefreshRepo,
) *AuthService {
	return &AuthService{
		otpProvider: otpProvider,
		jwtService:  jwtService,
		userRepo:    userRepo,
		refreshRepo: refreshRepo,
	}
}

// Authorize validates a bearer access token and returns the active user it
// belongs to. The relay refuses the connection on any error here.
func (s *AuthService) Authorize(ctx context.Context, token string) (model.User, error) {
	claims, err := s.jwtService.VerifyToken(token)
	if err != nil {
		return model.User{}, fmt.Errorf("invalid access token: %w", err)
	}
	user, err := s.userRepo.GetByID(ctx, claims.UserID.String())
	if err != nil {
		return model.User{}, fmt.Errorf("unknown user: %w", err)
	}
	if !user.Active {
		return model.User{}, fmt.Errorf("user %s is not verified", user.ID)
	}
	return user, nil
}

// VerifyOTPAndIssueTokens verifies the OTP, marks the user verified, and
// issues an access + refresh token pair.
func (s *AuthService) VerifyOTPAndIssueTokens(ctx context.Context, countryCode, phoneNumber, otp, ip string) (*model.User, string, string, error) {
	phone := countryCode + phoneNumber
	if err := s.otpProvider.VerifyOTP(ctx, phone, otp, ip); err != nil {
		return nil, "", "", fmt.Errorf("OTP verification failed: %w", err)
	}

	user, err := s.userRepo.GetOrCreateByPhone(ctx, countryCode, phoneNumber)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to get or create user: %w", err)
	}
	if !user.Active {
		if err := s.userRepo.SetActive(ctx, user.ID, true); err != nil {
			return nil, "", "", fmt.Errorf("failed to activate user: %w", err)
		}
		user.Active = true
	}

	accessToken, err := s.jwtService.SignAccessToken(user.ID, user.CountryCode, user.PhoneNumber)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to generate token: %w", err)
	}

	refreshToken, hashHex, err := GenerateRefreshToken()
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	if _, err := s.refreshRepo.Create(ctx, user.ID, hashHex, time.Now().Add(refreshTokenExpiry)); err != nil {
		return nil, "", "", fmt.Errorf("failed to store refresh session: %w", err)
	}

	return &user, accessToken, refreshToken, nil
}

// RefreshTokens rotates a refresh token: the presented token is revoked and
// replaced, and a new access token is issued. Presenting an already-revoked
// token revokes every session for the user.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	hashHex := HashRefreshToken(refreshToken)

	session, err := s.refreshRepo.FindByTokenHash(ctx, hashHex)
	if err != nil {
		// Reuse detection: a revoked session presented again means theft.
		if revoked, revErr := s.refreshRepo.FindByTokenHashIncludeRevoked(ctx, hashHex); revErr == nil && revoked.RevokedAt != nil {
			_ = s.refreshRepo.RevokeAllForUser(ctx, revoked.UserID)
			return "", "", ErrRefreshTokenReuseDetected
		}
		return "", "", fmt.Errorf("invalid refresh token: %w", err)
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID.String())
	if err != nil {
		return "", "", fmt.Errorf("unknown user: %w", err)
	}

	newToken, newHashHex, err := GenerateRefreshToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	newID, err := s.refreshRepo.Create(ctx, user.ID, newHashHex, time.Now().Add(refreshTokenExpiry))
	if err != nil {
		return "", "", fmt.Errorf("failed to store refresh session: %w", err)
	}
	if err := s.refreshRepo.RevokeAndSetReplacedBy(ctx, session.ID, newID); err != nil {
		return "", "", fmt.Errorf("failed to rotate refresh session: %w", err)
	}

	accessToken, err := s.jwtService.SignAccessToken(user.ID, user.CountryCode, user.PhoneNumber)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	return accessToken, newToken, nil
}

// Logout revokes the presented refresh token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.refreshRepo.FindByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		return fmt.Errorf("invalid refresh token: %w", err)
	}
	return s.refreshRepo.Revoke(ctx, session.ID)
}
