package store

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJWTIssuer   = "issueboard-portal"
	defaultJWTAudience = "issueboard-api"
	defaultKeyID       = "jwt-active"
	minHMACSecretBytes = 32
)

var defaultJWTLeeway = 30 * time.Second

var (
	// ErrTokenRevoked is returned for a well-formed token that was logged out.
	ErrTokenRevoked = errors.New("token revoked")

	errNoSubject = errors.New("token subject missing")
	errNoJTI     = errors.New("token jti missing")
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

func (o JWTOptions) withDefaults() JWTOptions {
	o.Issuer = strings.TrimSpace(o.Issuer)
	o.Audience = strings.TrimSpace(o.Audience)
	if o.Issuer == "" {
		o.Issuer = defaultJWTIssuer
	}
	if o.Audience == "" {
		o.Audience = defaultJWTAudience
	}
	if o.Leeway <= 0 {
		o.Leeway = defaultJWTLeeway
	}
	return o
}

// JWTSessionStore issues and validates session JWTs. Every token carries a
// jti so a single session can be revoked. HS256 stores sign with a shared
// secret; RS256 stores sign with the active key of a ring and publish the
// whole ring through JWKS.
type JWTSessionStore struct {
	ttl     time.Duration
	revoker TokenRevoker
	opts    JWTOptions

	method jwt.SigningMethod
	secret []byte
	ring   *keyRing
	parser *jwt.Parser
}

// NewJWTHS256SessionStore builds a store that signs with a shared secret.
func NewJWTHS256SessionStore(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if len(secret) < minHMACSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minHMACSecretBytes)
	}
	return newJWTSessionStore(jwt.SigningMethodHS256, ttl, revoker, opts, func(s *JWTSessionStore) {
		s.secret = []byte(secret)
	})
}

// NewJWTRS256SessionStore builds an RS256 store from an in-memory key.
// verifiers maps kid -> public key and may include retired keys.
func NewJWTRS256SessionStore(
	privateKey *rsa.PrivateKey,
	keyID string,
	verifiers map[string]*rsa.PublicKey,
	ttl time.Duration,
	revoker TokenRevoker,
	opts JWTOptions,
) (*JWTSessionStore, error) {
	ring, err := newKeyRing(privateKey, keyID, verifiers)
	if err != nil {
		return nil, err
	}
	return newJWTSessionStore(jwt.SigningMethodRS256, ttl, revoker, opts, func(s *JWTSessionStore) {
		s.ring = ring
	})
}

// NewJWTRS256SessionStoreFromPEM loads the RS256 key material from PEM files.
// publicKeyPath, when set, overrides the public half of the active key;
// verifyKeyFiles maps kid -> public key path for retired keys.
func NewJWTRS256SessionStoreFromPEM(
	privateKeyPath string,
	publicKeyPath string,
	keyID string,
	verifyKeyFiles map[string]string,
	ttl time.Duration,
	revoker TokenRevoker,
	opts JWTOptions,
) (*JWTSessionStore, error) {
	privateKey, err := readRSAPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	keyID = activeKeyID(keyID)

	verifiers := make(map[string]*rsa.PublicKey, len(verifyKeyFiles)+1)
	if path := strings.TrimSpace(publicKeyPath); path != "" {
		if verifiers[keyID], err = readRSAPublicKey(path); err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
	}
	for kid, path := range verifyKeyFiles {
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		if verifiers[kid], err = readRSAPublicKey(path); err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
	}
	return NewJWTRS256SessionStore(privateKey, keyID, verifiers, ttl, revoker, opts)
}

func newJWTSessionStore(method jwt.SigningMethod, ttl time.Duration, revoker TokenRevoker, opts JWTOptions, keys func(*JWTSessionStore)) (*JWTSessionStore, error) {
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	opts = opts.withDefaults()
	s := &JWTSessionStore{
		ttl:     ttl,
		revoker: revoker,
		opts:    opts,
		method:  method,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(opts.Leeway),
			jwt.WithIssuer(opts.Issuer),
			jwt.WithAudience(opts.Audience),
		),
	}
	keys(s)
	return s, nil
}

// TTL reports the lifetime given to new sessions.
func (s *JWTSessionStore) TTL() time.Duration { return s.ttl }

// NewSession signs a token for userID.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errNoSubject
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(s.method, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    s.opts.Issuer,
		Audience:  jwt.ClaimStrings{s.opts.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	if s.ring != nil {
		token.Header["kid"] = s.ring.active
		return token.SignedString(s.ring.signer)
	}
	return token.SignedString(s.secret)
}

// GetUserIDByToken validates a token and returns its subject. A bad
// signature, an expired token and a revoked token all report ok=false.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.verify(token)
	if err != nil {
		return "", false, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return "", false, err
		}
		if revoked {
			return "", false, ErrTokenRevoked
		}
	}
	return claims.Subject, true, nil
}

// DeleteSession revokes the token until it expires. Tokens that fail
// verification are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.verify(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

// JWKS publishes the key ring. HS256 stores have nothing to publish.
func (s *JWTSessionStore) JWKS() []JWK {
	if s.ring == nil {
		return nil
	}
	return s.ring.jwks()
}

func (s *JWTSessionStore) verify(token string) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("empty token")
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := s.parser.ParseWithClaims(token, claims, s.keyFor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, errNoJTI
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errNoSubject
	}
	return claims, nil
}

func (s *JWTSessionStore) keyFor(t *jwt.Token) (any, error) {
	if s.ring == nil {
		return s.secret, nil
	}
	kid, _ := t.Header["kid"].(string)
	return s.ring.lookup(kid)
}
