// Package auth implements the credential verifier described in the
// attachment handshake: a bearer JWT binds a (session ID, participant ID)
// pair so the Attachment Endpoint can authorize a join/attach without a
// round trip to the Session Coordinator.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teranos/scbe/config"
	"github.com/teranos/scbe/errs"
)

// Claims is the verified identity carried by an attachment credential.
type Claims struct {
	SessionID     string
	ParticipantID string
	DisplayName   string
}

// tokenClaims is the wire shape signed into the JWT.
type tokenClaims struct {
	jwt.RegisteredClaims
	SessionID     string `json:"sid"`
	ParticipantID string `json:"pid"`
	DisplayName   string `json:"name"`
}

// JWTManager issues and validates attachment credentials.
type JWTManager struct {
	secret        []byte
	tokenExpiry   time.Duration
	refreshExpiry time.Duration
}

// NewJWTManager builds a manager from the auth section of the process
// configuration. A secret is auto-generated when none is configured,
// which is fine for a single-process deployment but means restarting
// the process invalidates every outstanding credential.
func NewJWTManager(cfg *config.AuthConfig) (*JWTManager, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		generated, err := generateSecureSecret(32)
		if err != nil {
			return nil, errs.Wrap(err, "generate jwt secret")
		}
		secret = generated
	}

	tokenExpiry, err := time.ParseDuration(cfg.TokenExpiry)
	if err != nil {
		tokenExpiry = 15 * time.Minute
	}

	refreshExpiry, err := time.ParseDuration(cfg.RefreshExpiry)
	if err != nil {
		refreshExpiry = 30 * 24 * time.Hour
	}

	return &JWTManager{
		secret:        []byte(secret),
		tokenExpiry:   tokenExpiry,
		refreshExpiry: refreshExpiry,
	}, nil
}

// GenerateToken signs an attachment credential for the given claims.
func (m *JWTManager) GenerateToken(claims Claims) (string, error) {
	now := time.Now()
	wire := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "scbe",
		},
		SessionID:     claims.SessionID,
		ParticipantID: claims.ParticipantID,
		DisplayName:   claims.DisplayName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, wire)
	return token.SignedString(m.secret)
}

// ValidateToken parses and verifies a credential, returning the bound
// (session, participant) identity. Errors from here should be surfaced
// to the caller as an Unauthorized close per the wire protocol.
func (m *JWTManager) ValidateToken(tokenString string) (Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Newf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, errs.Wrap(err, "invalid credential")
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return Claims{}, errs.New("invalid credential claims")
	}
	if claims.SessionID == "" || claims.ParticipantID == "" {
		return Claims{}, errs.New("credential missing session or participant binding")
	}

	return Claims{
		SessionID:     claims.SessionID,
		ParticipantID: claims.ParticipantID,
		DisplayName:   claims.DisplayName,
	}, nil
}

// GenerateRefreshToken creates a secure random refresh token.
func (m *JWTManager) GenerateRefreshToken() (string, error) {
	return generateSecureSecret(32)
}

// TokenExpiry returns the configured credential lifetime.
func (m *JWTManager) TokenExpiry() time.Duration {
	return m.tokenExpiry
}

// RefreshExpiry returns the configured refresh token lifetime.
func (m *JWTManager) RefreshExpiry() time.Duration {
	return m.refreshExpiry
}

func generateSecureSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errs.Wrap(err, "generate random bytes")
	}
	return hex.EncodeToString(b), nil
}
