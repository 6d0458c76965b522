package model

import "github.com/golang-jwt/jwt/v5"

// PlayerClaims are JWT claims identifying a player on REST and websocket calls
type PlayerClaims struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// TokenRequest is the request body for POST /auth/token
type TokenRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// TokenResponse is returned after a token is issued
type TokenResponse struct {
	Token    string `json:"token"`
	PlayerID string `json:"playerId"`
}
