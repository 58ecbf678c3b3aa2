package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"nightshift/internal/logging"
)

// TokenHeader carries the API token for clients that cannot set an
// Authorization header. api_token (or NIGHTSHIFT_API_TOKEN) sets the value.
const TokenHeader = "X-Nightshift-Token"

// requireToken wraps next with the API token check. Without a configured
// token every request passes.
func (s *apiServer) requireToken(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	want := []byte(s.token)
	return func(w http.ResponseWriter, r *http.Request) {
		got := presentedToken(r)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.logger.Warn("api request rejected",
				logging.String("remote", r.RemoteAddr),
				logging.String("route", r.URL.Path),
				logging.Bool("token_present", got != ""),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="nightshift"`)
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func presentedToken(r *http.Request) string {
	if value, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(r.Header.Get(TokenHeader))
}
