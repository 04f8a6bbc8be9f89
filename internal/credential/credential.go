// Package credential mints short-lived signed credentials that authorise a
// caller to join a freshly allocated voice transport room.
//
// A credential is an HS256 JWT. Besides the registered claims it carries a
// video grant scoped to exactly one room and a metadata claim holding the
// agent behaviour configuration (instructions and voice model parameters) as
// a JSON string, so the agent joining the same room can read how it is
// expected to behave.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// Placeholder caller data used when the request carries none.
const (
	DefaultIdentity      = "human"
	DefaultCustomerPhone = "+1 (555) 123-4567"
	DefaultCustomerName  = "Test Customer"
)

// DefaultTTL is the credential lifetime when [Config.TTL] is zero.
const DefaultTTL = 6 * time.Hour

// Request is the input to [Gateway.Mint].
type Request struct {
	Instructions  string              `json:"instructions"`
	SessionConfig types.SessionConfig `json:"sessionConfig"`
	CustomerPhone string              `json:"customerPhone,omitempty"`
	CustomerName  string              `json:"customerName,omitempty"`

	// CustomerSessionID correlates the credential with a registrar record.
	// Optional.
	CustomerSessionID string `json:"customerSessionId,omitempty"`
}

// Grant is the output of [Gateway.Mint].
type Grant struct {
	AccessToken string `json:"accessToken"`
	URL         string `json:"url"`

	// Room is the room the token is scoped to. Not part of the wire response.
	Room string `json:"-"`
}

// VideoGrant lists the room permissions carried by a credential.
type VideoGrant struct {
	Room                 string `json:"room"`
	RoomJoin             bool   `json:"roomJoin"`
	CanPublish           bool   `json:"canPublish"`
	CanPublishData       bool   `json:"canPublishData"`
	CanSubscribe         bool   `json:"canSubscribe"`
	CanUpdateOwnMetadata bool   `json:"canUpdateOwnMetadata"`
}

// CallMetadata is the agent configuration embedded in a credential.
type CallMetadata struct {
	Instructions      string  `json:"instructions"`
	Modalities        string  `json:"modalities"`
	Voice             string  `json:"voice"`
	Temperature       float64 `json:"temperature"`
	MaxOutputTokens   *int    `json:"max_output_tokens"`
	CustomerPhone     string  `json:"customer_phone"`
	CustomerName      string  `json:"customer_name"`
	CustomerSessionID string  `json:"customer_session_id,omitempty"`
}

// Claims is the JWT payload of a credential.
type Claims struct {
	Name     string     `json:"name,omitempty"`
	Metadata string     `json:"metadata"`
	Video    VideoGrant `json:"video"`
	jwt.RegisteredClaims
}

// CallMetadata decodes the metadata claim.
func (c *Claims) CallMetadata() (CallMetadata, error) {
	var md CallMetadata
	if err := json.Unmarshal([]byte(c.Metadata), &md); err != nil {
		return CallMetadata{}, fmt.Errorf("credential: decode metadata: %w", err)
	}
	return md, nil
}

// Config holds the signing material and transport location.
type Config struct {
	// APIKey identifies the signing key. Used as the token issuer. Required.
	APIKey string

	// APISecret is the HMAC secret. Required.
	APISecret string

	// URL is the transport server URL returned with every grant.
	URL string

	// TTL is the credential lifetime. Default: [DefaultTTL].
	TTL time.Duration
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithRoomNamer overrides how room names are generated.
func WithRoomNamer(fn func() string) Option {
	return func(g *Gateway) { g.newRoom = fn }
}

// WithMetrics records mint outcomes and latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// Gateway mints and verifies credentials. It holds no mutable state and is
// safe for concurrent use.
type Gateway struct {
	apiKey  string
	secret  []byte
	url     string
	ttl     time.Duration
	now     func() time.Time
	newRoom func() string
	metrics *observe.Metrics
}

// New creates a Gateway. It returns an error wrapping
// [types.ErrConfiguration] when the signing material is incomplete.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("credential: %w: transport api key and secret must be set", types.ErrConfiguration)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	g := &Gateway{
		apiKey:  cfg.APIKey,
		secret:  []byte(cfg.APISecret),
		url:     cfg.URL,
		ttl:     cfg.TTL,
		now:     time.Now,
		newRoom: defaultRoomName,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func defaultRoomName() string {
	return "call-" + uuid.NewString()
}

// Mint signs a credential for a new room. Every call allocates a distinct
// room; the returned token authorises joining only that room.
func (g *Gateway) Mint(ctx context.Context, req Request) (grant Grant, err error) {
	start := time.Now()
	defer func() {
		g.metrics.RecordCredentialMint(ctx, time.Since(start), err)
	}()

	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}

	md := CallMetadata{
		Instructions:      req.Instructions,
		Modalities:        req.SessionConfig.Modalities,
		Voice:             req.SessionConfig.Voice,
		Temperature:       req.SessionConfig.Temperature,
		MaxOutputTokens:   req.SessionConfig.MaxOutputTokens,
		CustomerPhone:     req.CustomerPhone,
		CustomerName:      req.CustomerName,
		CustomerSessionID: req.CustomerSessionID,
	}
	if md.CustomerPhone == "" {
		md.CustomerPhone = DefaultCustomerPhone
	}
	if md.CustomerName == "" {
		md.CustomerName = DefaultCustomerName
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return Grant{}, fmt.Errorf("credential: encode metadata: %w", err)
	}

	identity := req.CustomerPhone
	if identity == "" {
		identity = DefaultIdentity
	}

	room := g.newRoom()
	now := g.now()
	claims := Claims{
		Name:     req.CustomerName,
		Metadata: string(mdJSON),
		Video: VideoGrant{
			Room:                 room,
			RoomJoin:             true,
			CanPublish:           true,
			CanPublishData:       true,
			CanSubscribe:         true,
			CanUpdateOwnMetadata: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.apiKey,
			Subject:   identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return Grant{}, fmt.Errorf("credential: sign: %w", err)
	}
	return Grant{AccessToken: token, URL: g.url, Room: room}, nil
}

// ErrInvalidToken is returned by [Gateway.Verify] for tokens that fail
// signature, issuer or expiry checks.
var ErrInvalidToken = errors.New("credential: invalid token")

// Verify parses and validates a credential minted by this gateway.
func (g *Gateway) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	},
		jwt.WithIssuer(g.apiKey),
		jwt.WithTimeFunc(g.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
