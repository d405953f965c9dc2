package middlewares

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const DeviceCookie = "pa_device"

// DeviceID returns the device identifier set by DeviceMiddleware.
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(DeviceIDKey).(string)
	return id
}

// DeviceMiddleware gives every browser a long-lived random device id. Session
// ids for products are stored per device.
func DeviceMiddleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(DeviceCookie); err == nil {
				if parsed, err := uuid.Parse(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     DeviceCookie,
					Value:    id,
					Path:     "/",
					Expires:  time.Now().AddDate(1, 0, 0),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), DeviceIDKey, id)))
		})
	}
}
