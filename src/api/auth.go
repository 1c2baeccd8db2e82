package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ligai-voice/ligai/src/logger"
)

// tokenTTL is the lifetime of an issued session token.
const tokenTTL = 24 * time.Hour

// Auth issues and validates dashboard session tokens. Users live in
// memory and are seeded at startup.
type Auth struct {
	secret []byte
	log    *logger.Logger

	mu    sync.RWMutex
	users map[string][]byte // username -> bcrypt hash
}

// NewAuth creates the auth service and seeds the admin account.
func NewAuth(secret, adminUser, adminPassword string) (*Auth, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("api: hash admin password: %w", err)
	}
	a := &Auth{
		secret: []byte(secret),
		log:    logger.WithPrefix("Auth"),
		users:  map[string][]byte{adminUser: hash},
	}
	a.log.Info("seeded user %q", adminUser)
	return a, nil
}

// Login verifies credentials and returns a signed token.
func (a *Auth) Login(username, password string) (string, error) {
	a.mu.RLock()
	hash, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("api: unknown user")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", fmt.Errorf("api: invalid credentials")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	return token.SignedString(a.secret)
}

// ValidateToken checks a signed token and returns its subject.
func (a *Auth) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("api: unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("api: invalid token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("api: token has no subject")
	}
	return sub, nil
}

// Middleware guards a route group with bearer-token auth and stores the
// username in the request context.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		username, err := a.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("username", username)
		c.Next()
	}
}
