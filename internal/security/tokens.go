// Package security validates claimant access tokens and admin API keys.
package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrCannotSign is returned by IssueAccess when no private key is configured.
	ErrCannotSign = errors.New("token provider has no signing key")
)

// AccessClaims holds JWT claims for a claimant access token. The subject is the claimant user id.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id,omitempty"`
}

// TokenProvider validates access JWTs (RS256 or ES256). Tokens are issued by the external identity
// service; a private key is only configured outside production for minting dev tokens.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	nowF       func() time.Time
}

// NewTokenProvider returns a TokenProvider. privateKey may be nil for a validate-only provider.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	if publicKey == nil && privateKey != nil {
		publicKey = privateKey.Public()
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		nowF:       time.Now,
	}
}

// IssueAccess mints an access token for userID. Used by dev tooling only.
func (p *TokenProvider) IssueAccess(userID, sessionID string) (token string, expiresAt time.Time, err error) {
	if p.privateKey == nil {
		return "", time.Time{}, ErrCannotSign
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.nowF().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
	}
	var method jwt.SigningMethod
	switch KeyAlg(p.privateKey.Public()) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return "", time.Time{}, ErrInvalidKey
	}
	token, err = jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
	return token, expiresAt, err
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud) and returns
// the claimant user id and the optional session id.
func (p *TokenProvider) ValidateAccess(tokenString string) (userID, sessionID string, err error) {
	if p == nil || p.publicKey == nil {
		return "", "", ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	if !slices.Contains([]string(claims.Audience), p.audience) {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.SessionID, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
