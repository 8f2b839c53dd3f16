package service

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"bananaclash/internal/models"
	"bananaclash/internal/utils"
)

const (
	identityIssuer = "bananaclash"
	signingKeyInfo = "bananaclash identity signing"
	derivedKeySize = 32
)

var ErrInvalidIdentity = errors.New("invalid identity token")

// IdentityClaims is the payload of a guest identity token
type IdentityClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// IdentityService issues and verifies signed guest identities
type IdentityService struct {
	secret   []byte
	key      []byte
	duration time.Duration
	now      func() time.Time
}

// NewIdentityService derives the signing key from secret
func NewIdentityService(secret string, duration time.Duration) (*IdentityService, error) {
	if secret == "" {
		return nil, fmt.Errorf("identity secret is required")
	}
	if duration <= 0 {
		duration = 30 * 24 * time.Hour
	}
	s := &IdentityService{
		secret:   []byte(secret),
		duration: duration,
		now:      time.Now,
	}
	key, err := s.DeriveKey(signingKeyInfo)
	if err != nil {
		return nil, err
	}
	s.key = key
	return s, nil
}

// DeriveKey returns a 32 byte key for purpose, independent of the signing key
func (s *IdentityService) DeriveKey(purpose string) ([]byte, error) {
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.secret, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}

// Issue creates a new guest identity named name and its token
func (s *IdentityService) Issue(name string) (models.Identity, string, time.Time, error) {
	name, err := utils.NormalizeUsername(name)
	if err != nil {
		return models.Identity{}, "", time.Time{}, err
	}
	return s.sign(models.Identity{ID: uuid.NewString(), Name: name})
}

// Rename reissues a token for an existing identity under a new display name
func (s *IdentityService) Rename(id models.Identity, name string) (models.Identity, string, time.Time, error) {
	name, err := utils.NormalizeUsername(name)
	if err != nil {
		return models.Identity{}, "", time.Time{}, err
	}
	id.Name = name
	return s.sign(id)
}

func (s *IdentityService) sign(id models.Identity) (models.Identity, string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.duration)
	claims := IdentityClaims{
		Name: id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    identityIssuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return models.Identity{}, "", time.Time{}, fmt.Errorf("failed to sign identity: %w", err)
	}
	return id, token, expires, nil
}

// Verify checks a token and returns the identity it carries
func (s *IdentityService) Verify(token string) (models.Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(identityIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &IdentityClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	if claims.Subject == "" || claims.Name == "" {
		return models.Identity{}, ErrInvalidIdentity
	}
	return models.Identity{ID: claims.Subject, Name: claims.Name}, nil
}
