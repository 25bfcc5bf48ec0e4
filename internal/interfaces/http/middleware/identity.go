package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/auth"
	"github.com/bgl/storefront/internal/infrastructure/logger"
	"github.com/bgl/storefront/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity context keys and headers
const (
	IdentityKey    = "identity"
	BearerTokenKey = "bearer_token"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "

	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"

	// HeaderGuestID carries the guest session id for clients without cookies
	HeaderGuestID = "X-Guest-ID"
	// GuestCookieName is the default guest session cookie
	GuestCookieName = "bgl_guest"
	// GuestIDKey is the gin context key holding the client's guest session id
	GuestIDKey = "guest_id"

	defaultGuestTTL = 30 * 24 * time.Hour
)

// IdentityConfig holds configuration for the identity middleware
type IdentityConfig struct {
	// JWTService verifies bearer tokens. Without it every bearer token is rejected.
	JWTService *auth.JWTService
	// AllowHeaderIdentity accepts X-User-* headers when no bearer token is sent
	AllowHeaderIdentity bool
	// GuestCookie names the guest session cookie. Defaults to GuestCookieName.
	GuestCookie string
	// GuestTTL is the guest cookie lifetime. Defaults to 30 days.
	GuestTTL time.Duration
	// SecureCookie sets the Secure flag on the guest cookie
	SecureCookie bool
	Logger       *zap.Logger
}

// Identity resolves the caller. A request with a valid bearer token gets
// the token's identity and keeps the token for forwarding to the commerce
// backend. An invalid token is answered with 401. A request without
// credentials continues as a guest: its guest session id comes from the
// X-Guest-ID header or the guest cookie, and a new one is issued as a cookie
// when neither carries a valid id. The guest id is kept on authenticated
// requests too, so a login can adopt that visitor's cart.
func Identity(cfg IdentityConfig) gin.HandlerFunc {
	log := logger.OrNop(cfg.Logger)
	cookie := cfg.GuestCookie
	if cookie == "" {
		cookie = GuestCookieName
	}
	ttl := cfg.GuestTTL
	if ttl <= 0 {
		ttl = defaultGuestTTL
	}

	return func(c *gin.Context) {
		guestID := guestFromRequest(c, cookie)
		if guestID != "" {
			c.Set(GuestIDKey, guestID)
		}

		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			if cfg.AllowHeaderIdentity {
				id, err := identityFromHeaders(c)
				if err != nil {
					abortUnauthorized(c, log, err)
					return
				}
				if id != nil {
					setIdentity(c, id, "")
					c.Next()
					return
				}
			}
			if guestID == "" {
				guestID = uuid.NewString()
				c.Set(GuestIDKey, guestID)
				c.SetSameSite(http.SameSiteLaxMode)
				c.SetCookie(cookie, guestID, int(ttl/time.Second), "/", "", cfg.SecureCookie, true)
			}
			c.Header(HeaderGuestID, guestID)
			c.Set(IdentityKey, shared.NewGuest(guestID))
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, BearerPrefix)
		if !ok || token == "" {
			abortUnauthorized(c, log, auth.ErrInvalidToken)
			return
		}
		if cfg.JWTService == nil {
			abortUnauthorized(c, log, auth.ErrNotConfigured)
			return
		}

		id, err := cfg.JWTService.Verify(token)
		if err != nil {
			abortUnauthorized(c, log, err)
			return
		}
		setIdentity(c, id, token)
		c.Next()
	}
}

// guestFromRequest returns the guest session id sent by the client, or ""
// when it is missing or not a UUID
func guestFromRequest(c *gin.Context, cookie string) string {
	raw := strings.TrimSpace(c.GetHeader(HeaderGuestID))
	if raw == "" {
		raw, _ = c.Cookie(cookie)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return ""
	}
	return id.String()
}

func identityFromHeaders(c *gin.Context) (*shared.Identity, error) {
	userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if userID == "" {
		return nil, nil
	}
	if err := shared.ValidateCustomerID(userID); err != nil {
		return nil, err
	}
	return &shared.Identity{
		ID:          userID,
		DisplayName: c.GetHeader(HeaderUserName),
		Email:       c.GetHeader(HeaderUserEmail),
		Role:        c.GetHeader(HeaderUserRole),
	}, nil
}

func setIdentity(c *gin.Context, id *shared.Identity, token string) {
	c.Set(IdentityKey, id)
	if token != "" {
		c.Set(BearerTokenKey, token)
	}
	ctx := logger.WithUserID(c.Request.Context(), id.ID)
	c.Request = c.Request.WithContext(ctx)
}

func abortUnauthorized(c *gin.Context, log *zap.Logger, err error) {
	log.Warn("Credentials rejected",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
	)

	code := dto.ErrCodeTokenInvalid
	message := "Invalid token"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code = dto.ErrCodeTokenExpired
		message = "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		message = "Token is not yet valid"
	case errors.Is(err, auth.ErrNotConfigured):
		message = "Token verification is not configured"
	case errors.Is(err, auth.ErrReservedSubject), errors.Is(err, shared.ErrReservedIdentity):
		message = "Identity id is reserved"
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(code, message, c.GetString(RequestIDKey)))
}

// GetIdentity returns the caller's identity. Guests get a guest identity
// when the Identity middleware ran, nil otherwise.
func GetIdentity(c *gin.Context) *shared.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if id, ok := v.(*shared.Identity); ok {
			return id
		}
	}
	return nil
}

// GetGuestID returns the client's guest session id, or ""
func GetGuestID(c *gin.Context) string {
	return c.GetString(GuestIDKey)
}

// GetBearerToken returns the verified bearer token, or ""
func GetBearerToken(c *gin.Context) string {
	return c.GetString(BearerTokenKey)
}

// RequireIdentity rejects guests with 401
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetIdentity(c).IsGuest() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Authentication required", c.GetString(RequestIDKey)))
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects guests with 401 and non-admin identities with 403
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id.IsGuest() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Authentication required", c.GetString(RequestIDKey)))
			return
		}
		if !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Admin role required", c.GetString(RequestIDKey)))
			return
		}
		c.Next()
	}
}
