// Package identity verifies bearer credentials and resolves them to the
// identity a connection acts as.
package identity

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
)

// Claims is the token payload. The subject carries the user id.
type Claims struct {
	Role      string `json:"role"`
	ShelterID string `json:"shelter_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens and, when a directory is configured, the
// user's directory entry.
type Verifier struct {
	secret    []byte
	issuer    string
	directory storage.UserDirectory
	now       func() time.Time
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithDirectory makes directory entries authoritative for role and shelter
// binding and records successful logins.
func WithDirectory(directory storage.UserDirectory) Option {
	return func(v *Verifier) { v.directory = directory }
}

// WithIssuer requires tokens to carry issuer in the iss claim.
func WithIssuer(issuer string) Option {
	return func(v *Verifier) { v.issuer = strings.TrimSpace(issuer) }
}

// WithClock overrides the time source used for expiry checks and login
// stamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a verifier for secret.
func NewVerifier(secret []byte, opts ...Option) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	v := &Verifier{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify resolves token to an identity. Every credential problem is reported
// as AUTHENTICATION_FAILED.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, apperrors.New(apperrors.CodeAuthentication, "credential is required")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		return domain.Identity{}, apperrors.Wrap(apperrors.CodeAuthentication, "credential is invalid", err)
	}

	identity := domain.Identity{
		UserID:    claims.Subject,
		Role:      domain.Role(claims.Role),
		ShelterID: claims.ShelterID,
	}.Normalize()
	if identity.UserID == "" {
		return domain.Identity{}, apperrors.New(apperrors.CodeAuthentication, "credential subject is required")
	}

	if v.directory != nil {
		identity, err = v.checkDirectory(ctx, identity)
		if err != nil {
			return domain.Identity{}, err
		}
	}
	if !identity.Role.Valid() {
		return domain.Identity{}, apperrors.New(apperrors.CodeAuthentication, "credential role is invalid")
	}
	return identity, nil
}

func (v *Verifier) checkDirectory(ctx context.Context, identity domain.Identity) (domain.Identity, error) {
	user, err := v.directory.GetUser(ctx, identity.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return identity, nil
	}
	if err != nil {
		return domain.Identity{}, apperrors.Wrap(apperrors.CodeUnavailable, "user directory is unavailable", err)
	}
	if !user.IsActive {
		return domain.Identity{}, apperrors.New(apperrors.CodeAuthentication, "user is inactive")
	}
	identity = domain.Identity{UserID: user.ID, Role: user.Role, ShelterID: user.ShelterID}.Normalize()
	if err := v.directory.RecordLogin(ctx, user.ID, v.now()); err != nil {
		log.Printf("identity: record login user=%s: %v", user.ID, err)
	}
	return identity, nil
}

// BearerToken extracts the credential from the token query parameter or the
// Authorization header.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}
