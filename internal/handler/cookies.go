package handler

import (
	"net/http"

	"github.com/chewtoys/kentcdodds.com/internal/middleware"
)

// writeSessionCookie はログインセッションIDのCookieを発行する。
func writeSessionCookie(w http.ResponseWriter, sessionID string, maxAge int, secure bool, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はログインセッションIDのCookieを破棄する。
func clearSessionCookie(w http.ResponseWriter, secure bool, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
