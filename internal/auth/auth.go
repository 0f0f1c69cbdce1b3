// Package auth issues and validates the HS256 bearer tokens that carry a
// caller's identity and role.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/example/food-rescue/internal/allocation"
)

type Service struct {
	signingKey []byte
	issuer     string
}

type Claims struct {
	UserID string          `json:"uid"`
	Role   allocation.Role `json:"role"`
	jwt.RegisteredClaims
}

func New(signingKey, issuer string) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: issuer}
}

func (s *Service) GenerateToken(userID string, role allocation.Role, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no uid")
	}
	switch claims.Role {
	case allocation.RoleSupplier, allocation.RoleClaimant:
	default:
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

type ctxKey struct{}

func WithCaller(ctx context.Context, c allocation.Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func CallerFrom(ctx context.Context) (allocation.Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(allocation.Caller)
	return c, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			unauthenticated(w, "missing bearer token")
			return
		}
		claims, err := s.ValidateToken(strings.TrimSpace(raw))
		if err != nil {
			unauthenticated(w, err.Error())
			return
		}
		ctx := WithCaller(r.Context(), allocation.Caller{ID: claims.UserID, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthenticated(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated", "message": msg})
}
