package handler

import (
	"net"
	"net/http"
	"strings"

	"go-storefront/internal/middleware"
)

// actor identifies who made an admin request, for the log line.
type actor struct {
	UserID   string
	Username string
	IP       string
}

func actorFromRequest(r *http.Request) actor {
	a := actor{IP: clientIP(r)}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return a
	}

	a.UserID = claims.UserID
	a.Username = claims.Username
	return a
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
