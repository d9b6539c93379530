package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"ftpshare/internal/config"
)

type ctxKey string

const userKey ctxKey = "ftpshare.user"

func UserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// dummyHash is compared against when the user is unknown so that a miss costs
// about as much as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("ftpshare"), bcrypt.MinCost)

// Basic checks HTTP Basic credentials against bcrypt hashes from config.
type Basic struct {
	users    map[string][]byte
	optional bool
}

// New returns nil when cfg has no users, meaning auth is disabled.
func New(cfg config.Config) *Basic {
	if len(cfg.Users) == 0 {
		return nil
	}
	b := &Basic{users: make(map[string][]byte, len(cfg.Users)), optional: cfg.AuthOptional}
	for name, u := range cfg.Users {
		b.users[name] = []byte(u.Bcrypt)
	}
	return b
}

// Check reports the authenticated user for an Authorization header value.
func (b *Basic) Check(header string) (string, bool) {
	u, p, ok := parseBasicAuth(header)
	if !ok {
		return "", false
	}
	hash, known := b.users[u]
	if !known {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(p))
		return "", false
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(p)); err != nil {
		return "", false
	}
	return u, true
}

// Require wraps next with BasicAuth.
//   - nil receiver: allow all
//   - optional mode: allow anonymous; validate creds if present
//   - otherwise: require valid creds
func (b *Basic) Require(next http.Handler) http.Handler {
	if b == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if b.optional && h == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, ok := b.Check(h)
		if !ok {
			deny(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func deny(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="ftpshare", charset="UTF-8"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	u, p, found := strings.Cut(string(raw), ":")
	if !found || u == "" {
		return "", "", false
	}
	if strings.ContainsRune(u, 0) || strings.ContainsRune(p, 0) {
		return "", "", false
	}
	return u, p, true
}
