package auth

import (
	"context"
	"net/http"
	"strings"
)

type callerKey struct{}

// ServiceFromContext returns the calling service named by a verified token.
func ServiceFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(callerKey{}).(string)
	return s, ok && s != ""
}

// RequireService admits requests carrying a service token minted by
// `nudge token`. Scheduling endpoints are machine-to-machine only, so there
// is no cookie or session fallback.
func RequireService(jwtSvc *JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				deny(w, `Bearer realm="nudge"`)
				return
			}
			svc, err := jwtSvc.Verify(tok)
			if err != nil {
				deny(w, `Bearer realm="nudge", error="invalid_token"`)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, svc)))
		})
	}
}

// bearer extracts the token; the scheme name is case-insensitive.
func bearer(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func deny(w http.ResponseWriter, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
