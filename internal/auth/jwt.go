package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

// ErrTokenInvalid covers malformed, expired and wrongly signed tokens.
var ErrTokenInvalid = errors.New("auth: token invalid")

// Claims is the token body issued by the identity provider.
type Claims struct {
	Role      string `json:"role"`
	CompanyID string `json:"companyId,omitempty"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// Verifier checks HS256 bearer tokens and turns them into a RequestContext.
type Verifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify parses tokenStr and returns the principal it describes.
func (v *Verifier) Verify(tokenStr string) (orders.RequestContext, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return orders.RequestContext{}, ErrTokenInvalid
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return orders.RequestContext{}, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return orders.RequestContext{}, ErrTokenInvalid
	}
	role := normaliseRole(claims.Role)
	if role == "" {
		return orders.RequestContext{}, ErrTokenInvalid
	}
	return orders.RequestContext{
		UserID:    claims.Subject,
		Role:      role,
		CompanyID: strings.TrimSpace(claims.CompanyID),
	}, nil
}

// Authenticate rejects requests without a valid bearer token and stores the principal on the context.
func (v *Verifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
			return
		}
		rc, err := v.Verify(tokenStr)
		if err != nil {
			respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "token invalid or expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
	})
}

// RequireRole lets the request through only when the principal has one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r = normaliseRole(r); r != "" {
			allowed[r] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := FromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "no identity on request")
				return
			}
			if _, ok := allowed[rc.Role]; !ok {
				respondAuthError(w, http.StatusForbidden, "forbidden", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Sign issues a token for rc. Used by local tooling and tests; production tokens come from the identity provider.
func Sign(secret, issuer string, rc orders.RequestContext, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:      rc.Role,
		CompanyID: rc.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   rc.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func WithRequestContext(ctx context.Context, rc orders.RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

func FromContext(ctx context.Context) (orders.RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(orders.RequestContext)
	return rc, ok
}

func normaliseRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "customer":
		return orders.RoleCustomer
	case "company":
		return orders.RoleCompany
	}
	return ""
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
