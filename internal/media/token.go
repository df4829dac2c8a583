package media

import (
	"errors"
	"time"

	"rtc-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenProvider mints room join credentials as HS256 JWTs carrying a video
// grant, the format managed media services accept.
type TokenProvider struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

var ErrNotConfigured = errors.New("media: api key/secret not configured")

func NewTokenProvider(cfg config.MediaConfig) (*TokenProvider, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &TokenProvider{
		apiKey: cfg.APIKey,
		secret: []byte(cfg.APISecret),
		ttl:    ttl,
		clock:  time.Now,
	}, nil
}

// VideoGrant scopes a credential to one room.
type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type grantClaims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name,omitempty"`
	Video VideoGrant `json:"video"`
}

// Mint issues a join credential for (roomID, identity, displayName).
func (p *TokenProvider) Mint(roomID, identity, displayName string) (Credential, error) {
	if roomID == "" || identity == "" {
		return Credential{}, errors.New("media: room and identity required")
	}

	now := p.clock().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.apiKey,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			ID:        uuid.NewString(),
		},
		Name: displayName,
		Video: VideoGrant{
			Room:         roomID,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: signed, RoomID: roomID, Identity: identity}, nil
}

// Verify parses a credential token and returns the granted room and identity.
// Used by tests and by transports that validate tokens server-side.
func (p *TokenProvider) Verify(token string, now time.Time) (room, identity string, err error) {
	var claims grantClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second),
		jwt.WithIssuer(p.apiKey),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}); err != nil {
		return "", "", err
	}
	if !claims.Video.RoomJoin || claims.Video.Room == "" {
		return "", "", errors.New("media: token carries no room grant")
	}
	if claims.Subject == "" {
		return "", "", errors.New("media: token carries no identity")
	}
	return claims.Video.Room, claims.Subject, nil
}
