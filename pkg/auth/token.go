package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/repub/pkg/httputil"
	"github.com/platinummonkey/repub/pkg/storage"
)

const (
	// TokenPrefix identifies repub API tokens.
	TokenPrefix = "repub_"
	// tokenBytes is the entropy of the random part (256 bits).
	tokenBytes = 32
)

// GenerateToken creates a new API token. The plaintext is
// repub_<base64url(32 random bytes)> and is returned exactly once; only
// the SHA-256 hex hash is stored. The prefix (repub_ plus the first 8
// encoded characters) is kept for display in token listings.
func GenerateToken() (plaintext, hash, prefix string, err error) {
	random := make([]byte, tokenBytes)
	if _, err := rand.Read(random); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(random)
	plaintext = TokenPrefix + encoded
	hash = HashToken(plaintext)
	prefix = TokenPrefix + encoded[:8]
	return plaintext, hash, prefix, nil
}

// HashToken computes the SHA-256 hex hash used for token lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenStatus classifies the outcome of bearer authentication.
type TokenStatus int

const (
	// TokenMissing means the request carried no bearer token.
	TokenMissing TokenStatus = iota
	// TokenInvalid means the token is unknown or expired.
	TokenInvalid
	// TokenValid means the token resolved to an active token row.
	TokenValid
)

// TokenAuth is the result of authenticating a bearer token.
type TokenAuth struct {
	Status  TokenStatus
	Message string
	Token   *storage.Token
}

// AuthenticateToken resolves the request's bearer token against the
// store. Valid tokens get their last_used_at stamped; a failed stamp is
// ignored since it only affects display.
func AuthenticateToken(ctx context.Context, store storage.Store, r *http.Request) TokenAuth {
	plaintext := httputil.BearerToken(r)
	if plaintext == "" {
		return TokenAuth{Status: TokenMissing, Message: "authentication required"}
	}
	token, err := store.GetTokenByHash(ctx, HashToken(plaintext))
	if err != nil {
		if storage.IsNotFound(err) {
			return TokenAuth{Status: TokenInvalid, Message: "invalid token"}
		}
		return TokenAuth{Status: TokenInvalid, Message: "token lookup failed"}
	}
	if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
		return TokenAuth{Status: TokenInvalid, Message: "token expired"}
	}
	_ = store.TouchToken(ctx, token.ID)
	return TokenAuth{Status: TokenValid, Token: token}
}
