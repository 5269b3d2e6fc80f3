package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// originPolicy decides which browser origins may act with the caller's ambient credentials.
// Same-host and origin-less requests are always allowed.
type originPolicy struct {
	allowed map[string]struct{}
	list    []string
}

func newOriginPolicy(origins []string) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		normalized := normalizeOrigin(origin)
		if normalized == "" {
			continue
		}
		if _, seen := policy.allowed[normalized]; seen {
			continue
		}
		policy.allowed[normalized] = struct{}{}
		policy.list = append(policy.list, normalized)
	}
	return policy
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}

func (p originPolicy) allows(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	_, ok := p.allowed[normalizeOrigin(origin)]
	return ok
}

// corsMiddleware allows every origin without credentials unless an allow list is configured, in
// which case only listed origins are answered and credentials are permitted.
func (p originPolicy) corsMiddleware() gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(p.list) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = append([]string(nil), p.list...)
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func (p originPolicy) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     p.allows,
	}
}

// carriesAmbientCredentials reports whether the request authenticates only through what a browser
// attaches on its own, which is the session cookie.
func carriesAmbientCredentials(r *http.Request) bool {
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return false
	}
	return r.URL.Query().Get("access_token") == ""
}
