package services

import (
	"errors"
	"strings"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingRoom  = errors.New("room name is required")
	ErrMissingName  = errors.New("user name is required")
)

// RoomClaims grant a display name access to one room.
type RoomClaims struct {
	Room        domain.RoomID `json:"room"`
	DisplayName string        `json:"name"`
	jwt.RegisteredClaims
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration, issuer string) ports.TokenService {
	return &tokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
}

func (s *tokenService) IssueToken(room domain.RoomID, displayName string) (string, error) {
	room = domain.RoomID(strings.TrimSpace(string(room)))
	displayName = strings.TrimSpace(displayName)
	if room == "" {
		return "", ErrMissingRoom
	}
	if displayName == "" {
		return "", ErrMissingName
	}

	now := s.now()
	claims := &RoomClaims{
		Room:        room,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   displayName,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *tokenService) ValidateToken(tokenString string) (*ports.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid || claims.Room == "" {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}

	return &ports.TokenClaims{RoomID: claims.Room, DisplayName: claims.DisplayName}, nil
}
