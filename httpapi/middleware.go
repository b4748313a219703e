package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	auth "github.com/Marriott12/armis-sub005"
)

type identityKey struct{}

func identityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey{}).(*auth.Identity)
	return id
}

// withClientIP resolves the caller's address and attaches it for rate
// limiting and audit records. X-Forwarded-For is trusted because the
// service only ever sits behind the unit's reverse proxy.
func withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Forwarded-For")
		if idx := strings.IndexByte(ip, ','); idx >= 0 {
			ip = ip[:idx]
		}
		ip = strings.TrimSpace(ip)
		if ip == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err == nil {
				ip = host
			} else {
				ip = r.RemoteAddr
			}
		}
		next.ServeHTTP(w, r.WithContext(auth.WithClientIP(r.Context(), ip)))
	})
}

// requireAuth verifies the bearer token and stores the identity on the
// request context.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		identity, err := h.engine.ValidateAccess(r.Context(), token)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next(w, r.WithContext(ctx))
	}
}

// requireCSRF enforces the X-CSRF-Token header on authenticated,
// state-changing routes. Must run inside requireAuth.
func (h *Handler) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFrom(r.Context())
		if identity == nil {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := h.engine.ValidateCSRF(r.Context(), identity.SessionID, r.Header.Get("X-CSRF-Token")); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		next(w, r)
	}
}
