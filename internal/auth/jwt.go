package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Actor roles carried in tokens. Staff roles match ledger roles; government
// and device actors never appear in the staff table.
const (
	RoleTeacher    = "teacher"
	RolePrincipal  = "principal"
	RoleGovernment = "government"
	RoleDevice     = "device"
	RoleStudent    = "student"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

// ErrRefreshToken is returned when a refresh token is presented as an access token.
var ErrRefreshToken = errors.New("refresh token cannot authorize requests")

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	AccessExp    time.Time `json:"accessExpiresAt"`
	RefreshExp   time.Time `json:"refreshExpiresAt"`
}

// Claims represents JWT payload. Subject is the actor id recorded on ledger
// writes (markedBy, approvedBy, uploadedBy).
type Claims struct {
	Subject  string `json:"sub"`
	Role     string `json:"role"`
	SchoolID string `json:"school,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// Actor identifies who a token speaks for.
type Actor struct {
	ID       string
	Role     string
	SchoolID string
}

// Issue issues signed access and refresh tokens for actor.
func Issue(actor Actor, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	if actor.ID == "" || actor.Role == "" {
		return TokenPair{}, errors.New("actor id and role are required")
	}
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	accessToken, err := sign(claimsFor(actor, issuer, tokenAccess, now, accessExp), key)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(claimsFor(actor, issuer, tokenRefresh, now, refreshExp), key)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func Refresh(refreshToken, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	claims, err := Parse(refreshToken, key, issuer)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.Type != tokenRefresh {
		return TokenPair{}, errors.New("not a refresh token")
	}
	return Issue(claims.Actor(), issuer, key, accessTTL, refreshTTL)
}

func claimsFor(actor Actor, issuer, typ string, now, exp time.Time) Claims {
	return Claims{
		Subject:  actor.ID,
		Role:     actor.Role,
		SchoolID: actor.SchoolID,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

func sign(c Claims, key string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(key))
}

// Actor returns the identity the claims speak for.
func (c Claims) Actor() Actor {
	return Actor{ID: c.Subject, Role: c.Role, SchoolID: c.SchoolID}
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
