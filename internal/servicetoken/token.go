// Package servicetoken signs and verifies the RS256 tokens the reader
// service presents to the internal outline API.
package servicetoken

import (
	"cmp"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"pdfreader/internal/util"
)

const (
	// AudienceOutline is the audience accepted by the outline service.
	AudienceOutline = "outline"
	// IssuerReader is the issuer used by the reader service.
	IssuerReader = "reader"

	DefaultTokenTTL = 60 * time.Second
	DefaultLeeway   = 15 * time.Second
	DefaultKeyID    = "reader-internal"
)

// SignerOptions configures signing. The key comes from PrivateKeyPEM when
// set, else from PrivateKeyPath.
type SignerOptions struct {
	PrivateKeyPath string
	PrivateKeyPEM  []byte
	KeyID          string
	Issuer         string
	TTL            time.Duration
}

// Signer issues short-lived internal service JWTs.
type Signer struct {
	issuer string
	kid    string
	ttl    time.Duration
	key    *rsa.PrivateKey
}

func NewSigner(opts SignerOptions) (*Signer, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	data, err := readPEM(opts.PrivateKeyPEM, opts.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("internal jwt private key: %w", err)
	}
	key, err := privateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("internal jwt private key: %w", err)
	}
	return &Signer{
		issuer: issuer,
		kid:    cmp.Or(strings.TrimSpace(opts.KeyID), DefaultKeyID),
		ttl:    cmp.Or(opts.TTL, DefaultTokenTTL),
		key:    key,
	}, nil
}

// Sign issues a token for audience.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := time.Now().UTC()
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        util.NewID(),
	})
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// VerifierOptions configures verification. PublicKeyPEM or PublicKeyPath
// is registered under DefaultKeyID; VerifyPublicKeyMap adds rotated keys.
type VerifierOptions struct {
	PublicKeyPath      string
	PublicKeyPEM       []byte
	VerifyPublicKeyMap map[string]string
	DefaultKeyID       string
	Audience           string
	AllowedIssuers     []string
	Leeway             time.Duration
}

// Verifier validates internal JWTs against audience and issuer allowlist.
type Verifier struct {
	keys    map[string]*rsa.PublicKey
	issuers []string
	parser  *jwt.Parser
}

func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	var issuers []string
	for _, issuer := range opts.AllowedIssuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			issuers = append(issuers, issuer)
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}

	keys := make(map[string]*rsa.PublicKey)
	if len(opts.PublicKeyPEM) > 0 || strings.TrimSpace(opts.PublicKeyPath) != "" {
		pub, err := loadPublicKey(opts.PublicKeyPEM, opts.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("internal jwt public key: %w", err)
		}
		keys[cmp.Or(strings.TrimSpace(opts.DefaultKeyID), DefaultKeyID)] = pub
	}
	for kid, path := range opts.VerifyPublicKeyMap {
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadPublicKey(nil, path)
		if err != nil {
			return nil, fmt.Errorf("internal verify key %q: %w", kid, err)
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("internal service verifier requires rsa public key")
	}

	return &Verifier{
		keys:    keys,
		issuers: issuers,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cmp.Or(opts.Leeway, DefaultLeeway)),
		),
	}, nil
}

// Verify validates signature, expiry, audience, issuer and jti presence.
func (v *Verifier) Verify(token string) (jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("token required")
	}
	if _, err := v.parser.ParseWithClaims(token, &claims, v.key); err != nil {
		return claims, err
	}
	if !slices.Contains(v.issuers, claims.Issuer) {
		return claims, fmt.Errorf("issuer %q not allowed", claims.Issuer)
	}
	if claims.ID == "" {
		return claims, errors.New("jti required")
	}
	return claims, nil
}

func (v *Verifier) key(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid = strings.TrimSpace(kid); kid == "" {
		return nil, errors.New("token key id required")
	}
	pub, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown token key %q", kid)
	}
	return pub, nil
}

func loadPublicKey(inline []byte, path string) (*rsa.PublicKey, error) {
	data, err := readPEM(inline, path)
	if err != nil {
		return nil, err
	}
	return publicKeyFromPEM(data)
}
