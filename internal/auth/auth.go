package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dmchat/internal/models"

	"github.com/c-pro/geche"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	// MaxClockSkew bounds how old or how far in the future an assertion may be.
	MaxClockSkew = 5 * time.Minute
)

var (
	ErrInvalidAssertion = models.Unauthenticated("invalid identity assertion")
	ErrExpiredAssertion = models.Unauthenticated("identity assertion expired")
	ErrUnknownSession   = models.Unauthenticated("unknown or expired session")
)

type LoginRequest struct {
	Assertion string `json:"assertion"`
}

type LoginResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	Token       string       `json:"token,omitempty"`
	TokenExpiry int64        `json:"tokenExpiry,omitempty"`
	User        *models.User `json:"user,omitempty"`
}

// claims is the signed payload of an identity assertion.
type claims struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	IssuedAt int64  `json:"iat"`
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

// Service is the identity adapter. It trusts assertions signed by the
// identity provider and hands out session tokens for them.
type Service struct {
	Config
	sessions geche.Geche[string, models.Identity]
	now      func() time.Time
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("identity secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

func NewService(ctx context.Context, config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		Config:   config,
		sessions: geche.NewMapTTLCache[string, models.Identity](ctx, config.TokenExpiry, time.Minute),
		now:      time.Now,
	}, nil
}

func (s *Service) sign(payload []byte) []byte {
	h := hmac.New(sha512.New, s.secretBytes)
	h.Write(payload)
	return h.Sum(nil)
}

// Sign produces the assertion the identity provider would issue for id at
// the given time.
func (s *Service) Sign(id models.Identity, issuedAt time.Time) (string, error) {
	payload, err := json.Marshal(claims{
		ID:       id.ID,
		Email:    id.Email,
		Name:     id.Name,
		Avatar:   id.Avatar,
		IssuedAt: issuedAt.Unix(),
	})
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(s.sign(payload)), nil
}

// Verify checks the signature and freshness of an assertion and returns the
// identity it carries.
func (s *Service) Verify(assertion string) (models.Identity, error) {
	encPayload, encSig, ok := strings.Cut(assertion, ".")
	if !ok {
		return models.Identity{}, ErrInvalidAssertion
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(encPayload)
	if err != nil {
		return models.Identity{}, ErrInvalidAssertion
	}
	sig, err := enc.DecodeString(encSig)
	if err != nil {
		return models.Identity{}, ErrInvalidAssertion
	}
	if !hmac.Equal(sig, s.sign(payload)) {
		return models.Identity{}, ErrInvalidAssertion
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return models.Identity{}, ErrInvalidAssertion
	}
	issued := time.Unix(c.IssuedAt, 0)
	if d := s.now().Sub(issued); d > MaxClockSkew || d < -MaxClockSkew {
		return models.Identity{}, ErrExpiredAssertion
	}
	if strings.TrimSpace(c.ID) == "" {
		return models.Identity{}, ErrInvalidAssertion
	}

	return models.Identity{
		ID:     c.ID,
		Email:  c.Email,
		Name:   c.Name,
		Avatar: c.Avatar,
	}, nil
}

// Login exchanges a valid assertion for a session token.
func (s *Service) Login(assertion string) (token string, identity models.Identity, expiry time.Time, err error) {
	identity, err = s.Verify(assertion)
	if err != nil {
		return "", models.Identity{}, time.Time{}, err
	}

	token, err = s.generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", identity.ID, "error", err)
		return "", models.Identity{}, time.Time{}, err
	}

	s.sessions.Set(token, identity)
	return token, identity, s.now().Add(s.TokenExpiry), nil
}

func (s *Service) Logoff(token string) error {
	return s.sessions.Del(token)
}

func (s *Service) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GetIdentity returns the identity behind a live session token.
func (s *Service) GetIdentity(token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrUnknownSession
	}
	id, err := s.sessions.Get(token)
	if err != nil {
		return models.Identity{}, ErrUnknownSession
	}
	return id, nil
}

// GetUserID returns the user id behind a live session token.
func (s *Service) GetUserID(token string) (string, error) {
	id, err := s.GetIdentity(token)
	return id.ID, err
}
