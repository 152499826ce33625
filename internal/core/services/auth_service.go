package services

import (
	"errors"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/pkg/cache"
	"peerlink/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and validates the bearer tokens for the admin HTTP API.
type AuthService interface {
	GenerateToken(adminID domain.AdminID, orgID domain.OrganizationID) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	AdminID        domain.AdminID        `json:"admin_id"`
	OrganizationID domain.OrganizationID `json:"organization_id"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	// claims holds validated tokens so repeated API calls skip signature
	// verification. Entries expire with the token itself.
	claims *cache.Cache
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		claims:         cache.New(accessTokenTTL),
	}
}

func (s *authService) GenerateToken(adminID domain.AdminID, orgID domain.OrganizationID) (string, error) {
	claims := &Claims{
		AdminID:        adminID,
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        utils.GenerateTokenID(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	if cached, ok := s.claims.Get(tokenString); ok {
		return cached.(*Claims), nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.ExpiresAt != nil {
		if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
			s.claims.SetWithTTL(tokenString, claims, ttl)
		}
	}

	return claims, nil
}
