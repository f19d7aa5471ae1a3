// Package auth turns bearer tokens into actors.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims identifies the company and user a token speaks for. Role and scope
// are not carried in the token; they are resolved from the directory on
// every request.
type Claims struct {
	UserID    int64 `json:"user_id"`
	CompanyID int64 `json:"company_id"`
	jwt.RegisteredClaims
}

// DefaultTokenExpiry is the lifetime of tokens minted by GenerateToken.
const DefaultTokenExpiry = 12 * time.Hour

// ErrInvalidToken is returned for tokens that fail parsing or validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// GenerateToken signs an HS256 token for the user within a company.
func GenerateToken(secret string, companyID, userID int64, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: signing secret required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiry
	}
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		CompanyID: companyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token, returning its claims.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 || claims.CompanyID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
