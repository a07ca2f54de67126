package middleware

import (
	"context"
	"errors"
	"time"

	"savegame-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBStorage is a fiber.Storage over the rate_limit_counters table, so every
// replica sees the same counters.
type DBStorage struct {
	DB  *gorm.DB
	Now func() time.Time
}

var _ fiber.Storage = (*DBStorage)(nil)

func NewDBStorage(db *gorm.DB) *DBStorage {
	return &DBStorage{DB: db, Now: time.Now}
}

func (s *DBStorage) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Get returns nil, nil for missing or expired keys.
func (s *DBStorage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	var row models.RateLimitCounter
	err := s.DB.Where("counter_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !row.ExpiresAt.IsZero() && !row.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return row.Value, nil
}

// Set upserts key; exp <= 0 means the entry never expires.
func (s *DBStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	row := models.RateLimitCounter{Key: key, Value: val}
	if exp > 0 {
		row.ExpiresAt = s.now().Add(exp)
	}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "counter_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&row).Error
}

func (s *DBStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	return s.DB.Where("counter_key = ?", key).Delete(&models.RateLimitCounter{}).Error
}

func (s *DBStorage) Reset() error {
	return s.DB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RateLimitCounter{}).Error
}

func (s *DBStorage) Close() error {
	return nil
}

// DeleteExpired removes counters whose window has ended.
func (s *DBStorage) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("expires_at > ? AND expires_at <= ?", time.Time{}, s.now()).
		Delete(&models.RateLimitCounter{})
	return res.RowsAffected, res.Error
}

// RateLimit limits each caller (user id when known, else IP) to max requests per window.
func RateLimit(storage fiber.Storage, max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := c.Get("X-User-ID"); id != "" {
				return "user:" + id
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		},
	})
}
