package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInsecureMode is returned by ValidateToken when no secret is configured
var ErrInsecureMode = errors.New("no JWT secret configured")

// TokenManager issues and validates HS256 JWTs
type TokenManager struct {
	jwtSecret []byte
	expiry    time.Duration
	now       func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(jwtSecret string, expiry time.Duration) *TokenManager {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenManager{
		jwtSecret: []byte(jwtSecret),
		expiry:    expiry,
		now:       time.Now,
	}
}

// Insecure reports whether tokens are not verified
func (m *TokenManager) Insecure() bool {
	return len(m.jwtSecret) == 0
}

// IssueToken signs a token for the user
func (m *TokenManager) IssueToken(userID string) (string, error) {
	if m.Insecure() {
		return "", ErrInsecureMode
	}

	now := m.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(m.expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(m.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT token and returns the user ID
func (m *TokenManager) ValidateToken(tokenString string) (string, error) {
	if m.Insecure() {
		return "", ErrInsecureMode
	}

	// Parse token
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	// Extract claims
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	// Extract user ID
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		// Try "sub" (subject) as fallback
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}

// ExtractTokenFromHeader extracts JWT token from Authorization header
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is empty")
	}

	// Support both "Bearer <token>" and just "<token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 {
		if strings.ToLower(parts[0]) != "bearer" {
			return "", fmt.Errorf("invalid authorization header format")
		}
		return parts[1], nil
	} else if len(parts) == 1 {
		// Allow just the token without "Bearer" prefix
		return parts[0], nil
	}

	return "", fmt.Errorf("invalid authorization header format")
}
