package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/service"
)

// StrategyReporter exposes the suggestion client's prompt statistics.
type StrategyReporter interface {
	StrategyStats() []domain.StrategyStats
	CircuitOpen() bool
}

// ValidatorReporter exposes the URL validator's counters.
type ValidatorReporter interface {
	Stats() service.ValidatorStats
}

// StatsHandler serves component statistics.
type StatsHandler struct {
	strategies StrategyReporter
	validator  ValidatorReporter
}

// NewStatsHandler creates a new stats handler. strategies may be nil when
// suggestions are disabled.
func NewStatsHandler(strategies StrategyReporter, validator ValidatorReporter) *StatsHandler {
	return &StatsHandler{strategies: strategies, validator: validator}
}

// Strategies handles GET /api/v1/strategies.
func (h *StatsHandler) Strategies(c *gin.Context) {
	if h.strategies == nil {
		c.JSON(http.StatusOK, gin.H{
			"enabled":    false,
			"strategies": []domain.StrategyStats{},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":      true,
		"circuit_open": h.strategies.CircuitOpen(),
		"strategies":   h.strategies.StrategyStats(),
	})
}

// Validator handles GET /api/v1/validator/stats.
func (h *StatsHandler) Validator(c *gin.Context) {
	stats := h.validator.Stats()
	rate := 0.0
	if stats.Checked > 0 {
		rate = float64(stats.Valid) / float64(stats.Checked)
	}
	worst := stats.WorstHosts(5)
	if worst == nil {
		worst = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":       stats,
		"valid_rate":  rate,
		"worst_hosts": worst,
	})
}
