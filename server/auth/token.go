package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	tpserrors "github.com/hrygo/tps/server/internal/errors"
	"github.com/hrygo/tps/store"
)

const (
	// Issuer is the iss claim on every token this package signs.
	Issuer = "tps"

	bearerPrefix = "Bearer "
	queryParam   = "token"
)

type claims struct {
	UserID      int64  `json:"user_id"`
	Role        string `json:"role"`
	IsSuperuser bool   `json:"superuser,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 access tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for p valid for ttl.
func (a *Authenticator) Issue(p *Principal, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:      p.UserID,
		Role:        string(p.Role),
		IsSuperuser: p.IsSuperuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Parse verifies raw and returns its principal.
func (a *Authenticator) Parse(raw string) (*Principal, error) {
	var out claims
	token, err := jwt.ParseWithClaims(raw, &out, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, tpserrors.Wrap(err, tpserrors.ErrCodeUnauthenticated, "invalid token")
	}
	if !token.Valid || out.UserID <= 0 {
		return nil, tpserrors.Unauthenticated("invalid token claims")
	}
	return &Principal{
		UserID:      out.UserID,
		Role:        store.Role(out.Role),
		IsSuperuser: out.IsSuperuser,
	}, nil
}

// Authenticate resolves the principal of r. A principal already on the
// request context wins, then the Authorization header, then the token query
// parameter browsers use for websocket upgrades.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	if p := FromContext(r.Context()); p != nil {
		return p, nil
	}
	raw := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		raw = strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	if raw == "" {
		raw = r.URL.Query().Get(queryParam)
	}
	if raw == "" {
		return nil, tpserrors.Unauthenticated("missing bearer token")
	}
	return a.Parse(raw)
}
