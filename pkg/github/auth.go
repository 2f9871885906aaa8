package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Authenticator yields the Authorization header for requests made on behalf
// of an installation.
type Authenticator interface {
	AuthorizationHeader(ctx context.Context, installationID int64) (string, error)
}

// tokenRotationMargin is how long before expiry a cached installation token is replaced.
const tokenRotationMargin = 5 * time.Minute

// installationTokenTTL bounds cache residency; GitHub issues tokens valid for one hour.
const installationTokenTTL = 55 * time.Minute

const maxCachedInstallations = 1024

// TokenAuth authenticates every request with one static token.
type TokenAuth struct {
	header string
}

// NewTokenAuth authenticates every installation with one static token.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{header: "Bearer " + token}
}

func (auth *TokenAuth) AuthorizationHeader(context.Context, int64) (string, error) {
	return auth.header, nil
}

type installationToken struct {
	token     string
	expiresAt time.Time
}

// AppAuth authenticates as a GitHub App: it signs RS256 JWTs and exchanges
// them for per-installation access tokens, cached until shortly before expiry.
type AppAuth struct {
	appID      int64
	privateKey *rsa.PrivateKey
	now        func() time.Time

	// Set by NewClient; the token exchange shares the client's transport.
	httpClient *http.Client
	baseURL    string

	tokens *expirable.LRU[int64, installationToken]
}

// NewAppAuth parses a PEM-encoded RSA key (PKCS1 or PKCS8).
func NewAppAuth(appID int64, privateKeyPEM []byte) (*AppAuth, error) {
	if appID == 0 {
		return nil, fmt.Errorf("github: app id is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("github: parsing private key: %w", err)
	}
	return &AppAuth{
		appID:      appID,
		privateKey: key,
		now:        time.Now,
		tokens:     expirable.NewLRU[int64, installationToken](maxCachedInstallations, nil, installationTokenTTL),
	}, nil
}

func (auth *AppAuth) AuthorizationHeader(ctx context.Context, installationID int64) (string, error) {
	if installationID == 0 {
		return "", fmt.Errorf("github: app auth requires an installation id")
	}
	if cached, ok := auth.tokens.Get(installationID); ok && auth.now().Before(cached.expiresAt.Add(-tokenRotationMargin)) {
		return "Bearer " + cached.token, nil
	}

	tok, err := auth.exchange(ctx, installationID)
	if err != nil {
		return "", err
	}
	auth.tokens.Add(installationID, tok)
	return "Bearer " + tok.token, nil
}

// appJWT signs the short-lived app token. iat is backdated a minute for clock skew.
func (auth *AppAuth) appJWT() (string, error) {
	now := auth.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(auth.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(auth.privateKey)
	if err != nil {
		return "", fmt.Errorf("github: signing app jwt: %w", err)
	}
	return signed, nil
}

func (auth *AppAuth) exchange(ctx context.Context, installationID int64) (installationToken, error) {
	signed, err := auth.appJWT()
	if err != nil {
		return installationToken{}, err
	}

	url := auth.baseURL + "/app/installations/" + strconv.FormatInt(installationID, 10) + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return installationToken{}, fmt.Errorf("github: token exchange request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := auth.httpClient.Do(req)
	if err != nil {
		return installationToken{}, fmt.Errorf("github: token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return installationToken{}, decodeAPIError(resp)
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&result); err != nil {
		return installationToken{}, fmt.Errorf("github: decoding token exchange response: %w", err)
	}
	if result.Token == "" {
		return installationToken{}, fmt.Errorf("github: token exchange returned empty token")
	}
	return installationToken{token: result.Token, expiresAt: result.ExpiresAt}, nil
}
