package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lakegate/lakegate/internal/syncrules"
)

// ClientHeader carries the transport identity a push batch must match.
const ClientHeader = "X-Lakegate-Client"

const (
	claimsContextKey = "lakegate_claims"
	clientContextKey = "lakegate_client"
)

// identity records the transport identity header and, when a bearer
// token is present, the decoded claims. An unreadable token leaves the
// request without claims; claim-bound rules then match nothing.
func (s *Server) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(clientContextKey, c.GetHeader(ClientHeader))

		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			claims, err := decodeClaims(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				s.logger.Debug("server: unreadable bearer token", slog.String("error", err.Error()))
			} else {
				c.Set(claimsContextKey, claims)
			}
		}

		c.Next()
	}
}

// decodeClaims extracts the payload segment of a JWT. Signature
// verification belongs to the fronting proxy; the gateway only shapes
// the claims for rules evaluation.
func decodeClaims(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("server: token has %d segments, want 3", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("server: decode token payload: %w", err)
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("server: parse token claims: %w", err)
	}

	return claims, nil
}

func clientIdentity(c *gin.Context) string {
	if v, ok := c.Get(clientContextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}

	return ""
}

// rulesContext builds the caller's filtering context from the request
// claims. Without a rules store every delta passes unfiltered.
func (s *Server) rulesContext(c *gin.Context) *syncrules.Context {
	if s.cfg.Rules == nil {
		return nil
	}

	var claims map[string]any
	if v, ok := c.Get(claimsContextKey); ok {
		claims, _ = v.(map[string]any)
	}

	return s.cfg.Rules.ContextFor(claims)
}
