package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Middleware func(next http.Handler) http.Handler

// userCacheTTL is deliberately short: the abuse detector flips is_active and
// session checks are allowed to see it a little stale.
const userCacheTTL = time.Minute

func userCacheKey(id string) string {
	return fmt.Sprintf("auth:user:%s", id)
}

// NewMiddleware verifies the bearer JWT, resolves the user record (through a
// short-lived redis cache), rejects inactive accounts, and attaches the
// Principal and a request ID to the context.
func NewMiddleware(store Store, cache *redis.Client, secret string, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = WithRequestID(ctx, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			p, err := ParseToken(secret, strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, err := lookupUser(ctx, store, cache, p.UserID, log)
			if err != nil {
				if errors.Is(err, ErrUserNotFound) {
					writeError(w, http.StatusUnauthorized, "unknown user")
					return
				}
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			if !user.IsActive {
				writeError(w, http.StatusForbidden, "account is deactivated, please contact support")
				return
			}

			ctx = WithPrincipal(ctx, Principal{
				UserID:    user.ID,
				CompanyID: user.CompanyID,
				Role:      user.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func lookupUser(ctx context.Context, store Store, cache *redis.Client, id string, log *zap.Logger) (*User, error) {
	key := userCacheKey(id)

	var cached User
	err := cache.Get(ctx, key).Scan(&cached)
	if err == nil {
		return &cached, nil
	} else if err != redis.Nil {
		log.Warn("auth cache read failed", zap.Error(err))
	}

	user, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := cache.Set(ctx, key, user, userCacheTTL).Err(); err != nil {
		log.Warn("auth cache write failed", zap.Error(err))
	}

	return user, nil
}

// RequireAdmin gates admin endpoints on the principal's role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if p.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Deactivator writes the is_active flag and invalidates the auth cache so
// suspension takes effect within one cache TTL at worst.
type Deactivator struct {
	store Store
	cache *redis.Client
	log   *zap.Logger
}

func NewDeactivator(store Store, cache *redis.Client, log *zap.Logger) *Deactivator {
	return &Deactivator{store: store, cache: cache, log: log}
}

func (d *Deactivator) SetActive(ctx context.Context, userID string, active bool) error {
	if err := d.store.SetActive(ctx, userID, active); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, userCacheKey(userID)).Err(); err != nil {
		d.log.Warn("auth cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
