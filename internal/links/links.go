package links

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Actions a human can take on a pending model package
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

var ErrInvalidToken = errors.New("invalid action token")

type actionClaims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

// Signer issues and checks short-lived tokens bound to one package and action
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner creates an HS256 signer. A zero ttl means seven days.
func NewSigner(key []byte, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}
}

// WithClock replaces the clock used for issuing and checking tokens
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

func (s *Signer) Sign(arn, action string) (string, error) {
	now := s.now()
	claims := actionClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   arn,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign action token: %w", err)
	}
	return token, nil
}

// Verify checks that token was issued by s for exactly arn and action
func (s *Signer) Verify(token, arn, action string) error {
	if token == "" {
		return fmt.Errorf("%w: missing", ErrInvalidToken)
	}
	claims := &actionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject != arn || claims.Action != action {
		return fmt.Errorf("%w: issued for another package or action", ErrInvalidToken)
	}
	return nil
}

// Builder makes the approve and reject links sent to reviewers
type Builder struct {
	Base   string
	Signer *Signer
}

func (b Builder) Approve(arn string) (string, error) {
	return b.link("approve", ActionApprove, arn)
}

func (b Builder) Reject(arn string) (string, error) {
	return b.link("reject", ActionReject, arn)
}

func (b Builder) link(path, action, arn string) (string, error) {
	q := url.Values{}
	q.Set("action", action)
	q.Set("modelPackageArn", arn)
	if b.Signer != nil {
		token, err := b.Signer.Sign(arn, action)
		if err != nil {
			return "", err
		}
		q.Set("token", token)
	}
	return strings.TrimRight(b.Base, "/") + "/" + path + "?" + q.Encode(), nil
}
