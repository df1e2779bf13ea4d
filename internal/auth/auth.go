package auth

import (
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

const DefaultTokenExpiry = time.Hour * 24

var ErrInvalidSubject = errors.New("token subject must be a user id")

// Issuer signs and verifies the bearer tokens that carry upload ownership
type Issuer struct {
	tokenAuth *jwtauth.JWTAuth
}

// NewIssuer creates an HS256 issuer for secretKey
func NewIssuer(secretKey string) *Issuer {
	return &Issuer{
		tokenAuth: jwtauth.New("HS256", []byte(secretKey), nil),
	}
}

// GetAuth returns the JWTAuth instance for middleware
func (i *Issuer) GetAuth() *jwtauth.JWTAuth {
	return i.tokenAuth
}

// GenerateToken creates a new JWT for userID. A non-positive expiry yields
// a token without an exp claim.
func (i *Issuer) GenerateToken(userID uuid.UUID, username string, expiry time.Duration) (string, error) {
	if userID == uuid.Nil {
		return "", ErrInvalidSubject
	}

	claims := map[string]interface{}{
		"user_id":  userID.String(),
		"username": username,
	}
	if expiry > 0 {
		jwtauth.SetExpiryIn(claims, expiry)
	}
	jwtauth.SetIssuedNow(claims)

	_, tokenString, err := i.tokenAuth.Encode(claims)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}
