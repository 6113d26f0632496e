package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoomClaims is the signed payload of a room token. A token admits its
// bearer into exactly one room until the expiry elapses.
type RoomClaims struct {
	RoomID   string `json:"roomId"`
	MaxPeers int    `json:"maxPeers"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid room token")
	ErrExpiredToken = errors.New("room token expired")
)

// Minter signs and verifies room tokens with a shared server secret.
type Minter struct {
	secret []byte
}

func NewMinter(secret string) *Minter {
	return &Minter{secret: []byte(secret)}
}

// Mint issues a signed token scoped to roomID, valid for ttl.
func (m *Minter) Mint(roomID string, maxPeers int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := RoomClaims{
		RoomID:   roomID,
		MaxPeers: maxPeers,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the embedded claims.
func (m *Minter) Verify(tokenString string) (*RoomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid || claims.RoomID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
