package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"quizrooms/internal/model"
)

var (
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrMissingUsername = errors.New("username is required")
)

const defaultTokenTTL = 24 * time.Hour

// AuthService issues and validates player identity tokens
type AuthService struct {
	jwtSecret []byte
	ttl       time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &AuthService{
		jwtSecret: []byte(secret),
		ttl:       ttl,
	}
}

// IssuePlayerToken signs a token for the given profile. Players without an
// id from the account service get a generated one.
func (s *AuthService) IssuePlayerToken(req model.TokenRequest) (*model.TokenResponse, error) {
	if req.Username == "" {
		return nil, ErrMissingUsername
	}
	playerID := req.ID
	if playerID == "" {
		playerID = "p_" + uuid.New().String()[:8]
	}

	claims := &model.PlayerClaims{
		PlayerID: playerID,
		Username: req.Username,
		Avatar:   req.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}
	return &model.TokenResponse{Token: tokenString, PlayerID: playerID}, nil
}

// ValidatePlayerToken validates a player JWT and returns the identity
func (s *AuthService) ValidatePlayerToken(tokenString string) (model.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.PlayerClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.PlayerClaims)
	if !ok || !token.Valid || claims.PlayerID == "" {
		return model.Identity{}, ErrInvalidToken
	}

	return model.Identity{
		PlayerID: claims.PlayerID,
		Username: claims.Username,
		Avatar:   claims.Avatar,
	}, nil
}
