// prodagent/middlewares/auth.go
package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"prodagent/prodagent/utils/apperr"
	httputils "prodagent/prodagent/utils/http"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	DeviceIDKey contextKey = "device_id"
)

var errInvalidToken = errors.New("invalid token")

// UserID returns the authenticated user of the request, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// ParseToken validates an HS256 token issued by the auth provider and returns
// its subject. Tokens carrying a numeric user_id claim are accepted too.
func ParseToken(secret, tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if id, ok := claims["user_id"].(float64); ok {
		return strconv.FormatInt(int64(id), 10), nil
	}
	return "", errInvalidToken
}

// AuthMiddleware attaches the user of a bearer token to the request. Requests
// without a token pass through anonymously; a token that does not verify is
// rejected. With no secret configured, tokens are ignored.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.Split(auth, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, r)
				return
			}
			userID, err := ParseToken(secret, parts[1])
			if err != nil {
				unauthorized(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	httputils.WriteJSON(w, http.StatusUnauthorized, httputils.ErrorBody{
		Error: "Your sign-in has expired. Please sign in again.",
		Kind:  string(apperr.KindValidation),
	})
}
