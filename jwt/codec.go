package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the algorithm used to sign tokens.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC secret. Default.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key and verifies with the public key.
	MethodEd25519 SigningMethod = "ed25519"
)

// TokenType distinguishes access tokens from refresh tokens. A token is only
// accepted by the operation that expects its type.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

const minHMACKeyBytes = 32

var (
	// ErrInvalidToken covers malformed tokens, bad signatures, unexpected
	// algorithms, issuer mismatch and token type mismatch.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token's expiry has passed.
	ErrExpiredToken = errors.New("token expired")
	// ErrEncoding is returned by Issue when the payload cannot be signed.
	ErrEncoding = errors.New("token encoding failed")
)

// Config configures a [Codec].
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256, or the Ed25519 private key
	// (raw or PEM) for ed25519.
	PrivateKey []byte
	// PublicKey is only used for ed25519.
	PublicKey  []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Payload is the signed content of a token.
type Payload struct {
	Subject     string
	Type        TokenType
	SessionID   string
	ID          string
	Roles       []string
	Permissions []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type claims struct {
	Type        TokenType `json:"typ"`
	SessionID   string    `json:"sid"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies compact JWS tokens. It holds no mutable state and
// is safe for concurrent use.
type Codec struct {
	config    Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewCodec validates cfg and resolves the signing material.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Codec{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("hs256 secret must be at least %d bytes", minHMACKeyBytes)
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = cfg.PrivateKey
		c.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		c.method = jwt.SigningMethodEdDSA
		c.verifyKey = pub
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			c.signKey = priv
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return c, nil
}

// TTL returns the configured lifetime for tokens of type t.
func (c *Codec) TTL(t TokenType) time.Duration {
	if t == TypeRefresh {
		return c.config.RefreshTTL
	}
	return c.config.AccessTTL
}

// Issue signs p. Zero IssuedAt and ExpiresAt are filled from the clock and
// the lifetime of p.Type. Output is deterministic for identical input and key.
func (c *Codec) Issue(p Payload) (string, error) {
	if p.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrEncoding)
	}
	if p.SessionID == "" {
		return "", fmt.Errorf("%w: missing session id", ErrEncoding)
	}
	if p.Type != TypeAccess && p.Type != TypeRefresh {
		return "", fmt.Errorf("%w: unknown token type %q", ErrEncoding, p.Type)
	}
	if c.signKey == nil {
		return "", fmt.Errorf("%w: codec has no signing key", ErrEncoding)
	}

	if p.IssuedAt.IsZero() {
		p.IssuedAt = c.config.Now()
	}
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = p.IssuedAt.Add(c.TTL(p.Type))
	}
	if !p.ExpiresAt.After(p.IssuedAt) {
		return "", fmt.Errorf("%w: expiry before issue time", ErrEncoding)
	}

	tok := jwt.NewWithClaims(c.method, claims{
		Type:        p.Type,
		SessionID:   p.SessionID,
		Roles:       p.Roles,
		Permissions: p.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    c.config.Issuer,
			ID:        p.ID,
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
	})

	signed, err := tok.SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry, then requires the
// token's type to equal expected.
func (c *Codec) Verify(token string, expected TokenType) (*Payload, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if cl.Type != expected {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, expected)
	}
	if cl.Subject == "" || cl.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrInvalidToken)
	}

	p := &Payload{
		Subject:     cl.Subject,
		Type:        cl.Type,
		SessionID:   cl.SessionID,
		ID:          cl.ID,
		Roles:       cl.Roles,
		Permissions: cl.Permissions,
	}
	if cl.IssuedAt != nil {
		p.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		p.ExpiresAt = cl.ExpiresAt.Time
	}
	return p, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
