package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/dgrijalva/jwt-go"
)

type contextKey string

// ClaimsContextKey is where JWTMiddleware stores the verified claims.
const ClaimsContextKey contextKey = "claims"

// Authenticator holds the two token verifiers the gateway uses: Auth0-issued
// tokens for dashboard reads, and shared-secret HMAC tokens for the command
// endpoints.
type Authenticator struct {
	secretKey []byte
	auth0     *jwtmiddleware.JWTMiddleware
}

// NewAuthenticator builds the authenticator. When issuer or audience is
// empty the Auth0 verifier is disabled and read endpoints are left open,
// which is only meant for local development.
func NewAuthenticator(secretKey, issuer, audience string) (*Authenticator, error) {
	a := &Authenticator{secretKey: []byte(secretKey)}

	if issuer == "" || audience == "" {
		log.Println("AUTH0_ISSUER or AUTH0_AUDIENCE not set, read endpoints are unauthenticated")
		return a, nil
	}

	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return nil, err
	}
	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)
	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
	)
	if err != nil {
		return nil, err
	}
	a.auth0 = jwtmiddleware.New(jwtValidator.ValidateToken)
	return a, nil
}

// EnsureValidToken guards read endpoints with the Auth0 verifier.
func (a *Authenticator) EnsureValidToken(next http.Handler) http.Handler {
	if a.auth0 == nil {
		return next
	}
	return a.auth0.CheckJWT(next)
}

// ValidateJWT validates a shared-secret token and returns its claims.
func (a *Authenticator) ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Println("JWT validation failed: Unexpected signing method")
			return nil, errors.New("unexpected signing method")
		}
		return a.secretKey, nil
	})
	if err != nil {
		log.Println("JWT validation failed:", err)
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	log.Println("JWT validation failed: Invalid token")
	return nil, errors.New("invalid token")
}

// JWTMiddleware verifies the shared-secret JWT and attaches its claims to the
// request context. Used on the command endpoints.
func (a *Authenticator) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Println("JWT authentication failed: Authorization header missing")
			http.Error(w, "Authorization header missing", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			log.Println("JWT authentication failed: Invalid token format")
			http.Error(w, "Invalid token format", http.StatusUnauthorized)
			return
		}

		claims, err := a.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
