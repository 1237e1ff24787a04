package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	// DefaultTokenExpiry applies when the configured expiry is not positive
	DefaultTokenExpiry = 60 * time.Minute
	// TokenIssuer is written to the iss claim
	TokenIssuer = "executive-secretary"

	contextPrincipal = "principal"
)

// Principal is the authenticated caller of a request
type Principal struct {
	UserID uint
	Email  string
	Role   string
}

// Claims is the token payload. The subject holds the decimal user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 session tokens
type JWTManager struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &JWTManager{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// IssueToken signs a token for p and returns it with its expiry
func (m *JWTManager) IssueToken(p Principal) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.expiry)

	claims := Claims{
		Email: p.Email,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(p.UserID), 10),
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies the token and returns its principal
func (m *JWTManager) Parse(token string) (*Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil || id == 0 {
		return nil, ErrInvalidToken
	}
	return &Principal{UserID: uint(id), Email: claims.Email, Role: claims.Role}, nil
}

// JWTMiddleware requires a bearer token, stores the principal on the gin
// context and tags the request logger with the user id.
func JWTMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthorizationHeader)
		if header == "" {
			abortUnauthorized(c, "Authorization header is required")
			return
		}
		token, ok := strings.CutPrefix(header, BearerPrefix)
		if !ok || token == "" {
			abortUnauthorized(c, "Invalid authorization header format")
			return
		}

		p, err := jwtManager.Parse(token)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, ErrTokenExpired) {
				message = "Token has expired"
			}
			abortUnauthorized(c, message)
			return
		}

		c.Set(contextPrincipal, p)
		ctx := c.Request.Context()
		tagged := logger.FromContext(ctx, nil).With(zap.Uint("user_id", p.UserID))
		c.Request = c.Request.WithContext(logger.WithContext(ctx, tagged))
		c.Next()
	}
}

// PrincipalFromContext returns the caller stored by JWTMiddleware
func PrincipalFromContext(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(contextPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok && p != nil
}

// GetUserIDFromContext retrieves the user ID from the Gin context
func GetUserIDFromContext(c *gin.Context) (uint, bool) {
	p, ok := PrincipalFromContext(c)
	if !ok {
		return 0, false
	}
	return p.UserID, p.UserID > 0
}
