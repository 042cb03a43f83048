// Package token mints and verifies the JWT pair handed out at login.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("token: invalid")
	ErrWrongUse     = errors.New("token: wrong token type")
)

type Claims struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Use      string `json:"use"`
	jwt.RegisteredClaims
}

type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(secret string, accessTTL, refreshTTL time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("token: empty secret")
	}
	return &Manager{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

func (m *Manager) Mint(userID, username, fullName string) (Pair, error) {
	access, err := m.sign(userID, username, fullName, "access", m.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.sign(userID, username, fullName, "refresh", m.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

func (m *Manager) sign(userID, username, fullName, use string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Username: username,
		FullName: fullName,
		Use:      use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccess parses an access token and returns its claims.
func (m *Manager) VerifyAccess(raw string) (*Claims, error) {
	return m.verify(raw, "access")
}

// VerifyRefresh parses a refresh token, used by the refresh endpoint only.
func (m *Manager) VerifyRefresh(raw string) (*Claims, error) {
	return m.verify(raw, "refresh")
}

func (m *Manager) verify(raw, use string) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Use != use {
		return nil, ErrWrongUse
	}
	return &claims, nil
}
