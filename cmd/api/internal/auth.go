package internal

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "signalpilot-api"

var ErrAuthDisabled = errors.New("authentication is not configured")

type JWTManager struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// NewJWTManager returns nil when secret is empty, which disables protected routes
func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{
		secretKey: []byte(secret),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (jm *JWTManager) GenerateToken(userID string) (string, time.Time, error) {
	if jm == nil {
		return "", time.Time{}, ErrAuthDisabled
	}
	now := jm.now()
	expirationTime := now.Add(jm.ttl)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jm.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expirationTime, nil
}

func (jm *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if jm == nil {
		return nil, ErrAuthDisabled
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jm.secretKey, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(jm.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleGenerateToken exchanges the admin credentials for a bearer token
func (api *API) HandleGenerateToken(w http.ResponseWriter, r *http.Request) {
	if api.JWTManager == nil || api.AdminPassword == "" {
		WriteError(w, http.StatusServiceUnavailable, "Authentication is not configured")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(api.AdminUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(api.AdminPassword)) == 1
	if !userOK || !passOK {
		WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, expiresAt, err := api.JWTManager.GenerateToken(req.Username)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.UTC(),
	})
}
