package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/utopiachat/relay/internal/auth"
	"github.com/utopiachat/relay/internal/middleware"
)

// Composed country code + national number must form a plausible E.164 number.
var phonePattern = regexp.MustCompile(`^\+[0-9]{7,20}$`)

func isRateLimitErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "rate limit")
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService     *auth.AuthService
	otpProvider     auth.OtpProvider
	devMode         bool
	ipLimiter       *middleware.RateLimiter
	verifyIPLimiter *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService, otpProvider auth.OtpProvider, devMode bool) *AuthHandler {
	// IP rate limiters: 10 per 10min for request_otp, 20 per 10min for
	// verify_otp (the per-phone limit is DB-based in the OTP provider)
	return &AuthHandler{
		authService:     authService,
		otpProvider:     otpProvider,
		devMode:         devMode,
		ipLimiter:       middleware.NewRateLimiter(10*time.Minute, 10),
		verifyIPLimiter: middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

// phoneRequest carries the split phone identity used by all auth endpoints
type phoneRequest struct {
	CountryCode string `json:"country_code"`
	PhoneNumber string `json:"phone_number"`
}

func (p *phoneRequest) normalize() {
	p.CountryCode = strings.TrimSpace(p.CountryCode)
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)
}

func (p *phoneRequest) valid() bool {
	return p.CountryCode != "" && p.PhoneNumber != "" && phonePattern.MatchString(p.CountryCode+p.PhoneNumber)
}

// requestOTPResponse is the JSON response for request_otp
type requestOTPResponse struct {
	Message string `json:"message"`
	DevOTP  string `json:"dev_otp,omitempty"`
}

// verifyOTPRequest is the request body for POST /auth/verify_otp
type verifyOTPRequest struct {
	phoneRequest
	OTP string `json:"otp"`
}

// verifyOTPResponse is the JSON response for verify_otp
type verifyOTPResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	User         userResponse `json:"user"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID          string `json:"id"`
	CountryCode string `json:"country_code"`
	PhoneNumber string `json:"phone_number"`
}

// HandleRequestOTP handles POST /auth/request_otp
func (h *AuthHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.normalize()
	if !req.valid() {
		respondWithError(w, http.StatusBadRequest, "country_code and phone_number must form a valid phone number")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	phone := req.CountryCode + req.PhoneNumber
	err := h.otpProvider.RequestOTP(r.Context(), phone, getClientIP(r), r.UserAgent())
	if err != nil {
		logMaskedPhone(phone, "Failed to request OTP", err)
		if isRateLimitErr(err) {
			respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to request OTP")
		return
	}

	response := requestOTPResponse{Message: "otp_sent"}
	if h.devMode {
		response.DevOTP = "123456"
	}
	respondWithJSON(w, http.StatusOK, response)
}

// HandleVerifyOTP handles POST /auth/verify_otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.normalize()
	req.OTP = strings.TrimSpace(req.OTP)
	if !req.valid() || req.OTP == "" {
		respondWithError(w, http.StatusBadRequest, "country_code, phone_number and otp are required")
		return
	}

	if !h.verifyIPLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	user, accessToken, refreshToken, err := h.authService.VerifyOTPAndIssueTokens(
		r.Context(), req.CountryCode, req.PhoneNumber, req.OTP, getClientIP(r))
	if err != nil {
		logMaskedPhone(req.CountryCode+req.PhoneNumber, "OTP verification failed", err)
		respondWithError(w, http.StatusUnauthorized, "invalid or expired OTP")
		return
	}

	respondWithJSON(w, http.StatusOK, verifyOTPResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		User: userResponse{
			ID:          user.ID.String(),
			CountryCode: user.CountryCode,
			PhoneNumber: user.PhoneNumber,
		},
	})
}

// refreshRequest is the request body for POST /auth/refresh
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse is the JSON response for refresh
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	accessToken, refreshToken, err := h.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenReuseDetected) {
			respondWithError(w, http.StatusUnauthorized, "refresh_token_reuse_detected")
			return
		}
		respondWithError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	respondWithJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	})
}

// HandleLogout handles POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		respondWithError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondWithJSON(w, http.StatusOK, userResponse{
		ID:          user.ID.String(),
		CountryCode: user.CountryCode,
		PhoneNumber: user.PhoneNumber,
	})
}

// respondWithJSON writes a JSON response with the given status
func respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return r.RemoteAddr
}

// logMaskedPhone logs an auth failure with all but the last four digits hidden
func logMaskedPhone(phone, msg string, err error) {
	masked := "****"
	if len(phone) > 4 {
		masked = "****" + phone[len(phone)-4:]
	}
	log.Printf("%s for %s: %v", msg, masked, err)
}
