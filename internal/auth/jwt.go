package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleOperator Role = "operator"
	RoleTerminal Role = "terminal"
)

func (r Role) IsValid() bool {
	return r == RoleOperator || r == RoleTerminal
}

// Claims identify the caller. For terminals Subject is the device id.
type Claims struct {
	Subject string
	Role    Role
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func GenerateToken(subject string, role Role, secret string, expiry time.Duration) (string, error) {
	if subject == "" || !role.IsValid() {
		return "", fmt.Errorf("GenerateToken: subject and a valid role are required")
	}

	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: string(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}

	role := Role(tc.Role)
	if tc.Subject == "" || !role.IsValid() {
		return nil, fmt.Errorf("ValidateToken: token missing subject or role")
	}

	return &Claims{
		Subject: tc.Subject,
		Role:    role,
	}, nil
}
