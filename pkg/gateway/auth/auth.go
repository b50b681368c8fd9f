package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

type Principal struct {
	APIKey string
}

// Owner derives the stable account identifier sessions are scoped by.
// The raw key never leaves this function.
func (p *Principal) Owner() string {
	if p == nil || strings.TrimSpace(p.APIKey) == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(p.APIKey))
	return "acct_" + hex.EncodeToString(sum[:6])
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// OwnerFrom resolves the owner identifier for the request, falling back to
// "anonymous" when auth is optional or disabled.
func OwnerFrom(ctx context.Context) string {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return "anonymous"
	}
	return p.Owner()
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
