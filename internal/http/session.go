package http

import (
	"context"
	"net/http"
	"time"

	"gigfin/internal/auth"
	"gigfin/internal/core"
	"gigfin/internal/log"
)

// SessionCookieName is the cookie carrying the session id.
const SessionCookieName = "gigfin_session"

type sessionContextKey struct{}

type principal struct {
	user    core.User
	session core.Session
}

func withPrincipal(ctx context.Context, u core.User, s core.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, principal{user: u, session: s})
}

// currentUser returns the authenticated user. Only valid behind requireSession.
func currentUser(r *http.Request) core.User {
	p, _ := r.Context().Value(sessionContextKey{}).(principal)
	return p.user
}

func currentSession(r *http.Request) core.Session {
	p, _ := r.Context().Value(sessionContextKey{}).(principal)
	return p.session
}

// requireSession resolves the session cookie. Sessions still waiting for
// their second factor are refused unless allowPending is set.
func (s *Server) requireSession(allowPending bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				UnauthorizedError(auth.ErrUnauthorized.Error()).Write(w)
				return
			}
			u, sess, err := s.auth.Resolve(r.Context(), cookie.Value)
			if err != nil {
				respondError(w, r, log.OpRead, err)
				return
			}
			if sess.TwoFactorPending && !allowPending {
				UnauthorizedError(auth.ErrTwoFactorRequired.Error()).Write(w)
				return
			}

			ctx := withPrincipal(r.Context(), u, sess)
			ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, u.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess core.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
