// Package identity turns bearer tokens issued by the external identity
// provider into actors. The token only names the profile; the role always
// comes from the stored profile.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrUnknownProfile = errors.New("no profile for token subject")
)

type Verifier struct {
	secret   []byte
	profiles repository.ProfileRepository
}

func NewVerifier(secret string, profiles repository.ProfileRepository) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		profiles: profiles,
	}
}

// Subject validates an HS256 token and returns its sub claim.
func (v *Verifier) Subject(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// Authenticate resolves a token to the actor it belongs to.
func (v *Verifier) Authenticate(ctx context.Context, tokenStr string) (domain.Actor, error) {
	id, err := v.Subject(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}

	p, err := v.profiles.GetByID(ctx, id)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("loading profile: %w", err)
	}
	if p == nil {
		return domain.Actor{}, ErrUnknownProfile
	}
	return domain.ActorFromProfile(p), nil
}

// IssueToken signs a token for userID. The identity provider issues real
// tokens; this serves pulsectl and tests.
func IssueToken(secret string, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
