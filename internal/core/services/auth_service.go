package services

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	ErrExpiredToken = fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
)

// channelAudience marks tokens that only authorize opening one signaling
// channel.
const channelAudience = "livesignal-channel"

type AuthService interface {
	ports.IdentityVerifier
	GenerateToken(identity domain.Identity, username string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	IssueChannelToken(sessionID domain.SessionID, role domain.Role, identity domain.Identity) (string, error)
	ValidateChannelToken(tokenString string) (*ChannelClaims, error)
	ChannelTokenTTL() time.Duration
}

type Claims struct {
	Identity domain.Identity `json:"identity"`
	Username string          `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// ChannelClaims bind a channel token to a session and a role.
type ChannelClaims struct {
	Identity  domain.Identity  `json:"identity"`
	SessionID domain.SessionID `json:"session_id"`
	Role      domain.Role      `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	channelTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, accessTokenTTL, channelTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		channelTokenTTL: channelTokenTTL,
	}
}

func (s *authService) GenerateToken(identity domain.Identity, username string) (string, error) {
	if err := validation.ValidateIdentity(string(identity)); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalid, err)
	}
	now := time.Now()
	claims := &Claims{
		Identity: identity,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken parses an access token. Channel tokens are rejected.
func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if slices.Contains(claims.Audience, channelAudience) {
		return nil, ErrInvalidToken
	}
	if err := validation.ValidateIdentity(string(claims.Identity)); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify resolves a bearer access token to its identity.
func (s *authService) Verify(tokenString string) (domain.Identity, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Identity, nil
}

func (s *authService) IssueChannelToken(sessionID domain.SessionID, role domain.Role, identity domain.Identity) (string, error) {
	now := time.Now()
	claims := &ChannelClaims{
		Identity:  identity,
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity),
			Audience:  jwt.ClaimStrings{channelAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.channelTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateChannelToken(tokenString string) (*ChannelClaims, error) {
	claims := &ChannelClaims{}
	if err := s.parse(tokenString, claims, jwt.WithAudience(channelAudience)); err != nil {
		return nil, err
	}
	if claims.Identity == "" {
		return nil, ErrInvalidToken
	}
	if _, err := domain.ParseRole(string(claims.Role)); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) ChannelTokenTTL() time.Duration {
	return s.channelTokenTTL
}

func (s *authService) parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
