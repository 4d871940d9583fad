package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/ratelimit"
	"github.com/layer-3/keyward/service"
	"github.com/rs/zerolog/log"
)

const (
	ctxWallet       = "wallet"
	ctxSession      = "session"
	ctxSessionToken = "sessionToken"
)

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthMiddleware creates middleware that validates session tokens
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			fail(c, http.StatusUnauthorized, msgBearer)
			return
		}

		session, err := authService.ValidateSession(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrTokenExpired):
				fail(c, http.StatusUnauthorized, msgSessionExpired)
			case errors.Is(err, core.ErrInvalidToken), errors.Is(err, core.ErrTokenInvalidated):
				fail(c, http.StatusUnauthorized, msgBearer)
			default:
				writeError(c, err)
			}
			return
		}

		c.Set(ctxWallet, session.Wallet)
		c.Set(ctxSession, session)
		c.Set(ctxSessionToken, token)

		c.Next()
	}
}

// callerWallet returns the wallet the auth middleware put in the context
func callerWallet(c *gin.Context) string {
	return c.GetString(ctxWallet)
}

// RequestLogger logs one line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// RateLimit rejects clients that exceed the limiter's budget for this route.
// Callers with a session are counted per wallet, others per client address.
func RateLimit(limiter *ratelimit.Limiter, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		key := ratelimit.Key{Route: c.FullPath(), Client: rateLimitClient(c)}
		if ok, wait := limiter.Allow(key, now()); !ok {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			fail(c, http.StatusTooManyRequests, msgRateLimited)
			return
		}
		c.Next()
	}
}

func rateLimitClient(c *gin.Context) string {
	if wallet := callerWallet(c); wallet != "" {
		return ratelimit.WalletClient(wallet)
	}
	return ratelimit.IPClient(c.ClientIP())
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
