package service

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// AuthService validates bearer tokens issued by the surrounding platform and
// extracts the acting user for transition records and audit entries. Token
// issuance and user identity live outside the engine.
type AuthService struct {
	jwtSecret string
	logger    *logrus.Logger
}

func NewAuthService(jwtSecret string, logger *logrus.Logger) *AuthService {
	return &AuthService{jwtSecret: jwtSecret, logger: logger}
}

// ParseToken verifies the token signature and returns the subject claim.
func (s *AuthService) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject")
	}

	return subject, nil
}
