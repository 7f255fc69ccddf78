package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/slidefix/internal/api/middleware"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
)

// CacheAdmin is the part of the image cache exposed over HTTP.
type CacheAdmin interface {
	Stats(ctx context.Context, windowDays int) (*domain.CacheStats, error)
	Expire(ctx context.Context, olderThan time.Time, usageFloor int) (int64, error)
}

// CacheDefaults holds the values used when a request leaves them out.
type CacheDefaults struct {
	StatsWindowDays int
	RetentionDays   int
	UsageFloor      int
}

// ExpireRequest is the body of POST /api/v1/cache/expire.
type ExpireRequest struct {
	OlderThanDays *int `json:"older_than_days"`
	UsageFloor    *int `json:"usage_floor"`
}

// CacheHandler serves cache statistics and maintenance.
type CacheHandler struct {
	cache    CacheAdmin
	defaults CacheDefaults
	now      func() time.Time
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(cache CacheAdmin, defaults CacheDefaults) *CacheHandler {
	if defaults.StatsWindowDays <= 0 {
		defaults.StatsWindowDays = 7
	}
	if defaults.RetentionDays <= 0 {
		defaults.RetentionDays = 30
	}
	return &CacheHandler{cache: cache, defaults: defaults, now: time.Now}
}

// Stats handles GET /api/v1/cache/stats?window_days=N.
func (h *CacheHandler) Stats(c *gin.Context) {
	window := h.defaults.StatsWindowDays
	if raw := c.Query("window_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window_days must be between 1 and 365"})
			return
		}
		window = n
	}

	stats, err := h.cache.Stats(c.Request.Context(), window)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to read cache stats")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cache unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Expire handles POST /api/v1/cache/expire. It deletes entries not validated
// within the retention window whose usage is below the floor.
func (h *CacheHandler) Expire(c *gin.Context) {
	var req ExpireRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
	}

	days := h.defaults.RetentionDays
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}
	floor := h.defaults.UsageFloor
	if req.UsageFloor != nil {
		floor = *req.UsageFloor
	}
	if days < 1 || floor < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_days must be positive and usage_floor non-negative"})
		return
	}

	cutoff := h.now().UTC().AddDate(0, 0, -days)
	removed, err := h.cache.Expire(c.Request.Context(), cutoff, floor)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to expire cache entries")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cache unavailable"})
		return
	}

	middleware.GetLogger(c).WithFields(logger.Fields{
		"removed":     removed,
		"cutoff":      cutoff.Format(time.RFC3339),
		"usage_floor": floor,
	}).Info("Expired cache entries")
	c.JSON(http.StatusOK, gin.H{
		"removed":     removed,
		"cutoff":      cutoff,
		"usage_floor": floor,
	})
}
