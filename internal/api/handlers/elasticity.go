package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platewise/platewise-go/internal/cache"
	"github.com/platewise/platewise-go/internal/database"
	"github.com/platewise/platewise-go/internal/services"
)

// ElasticityHandler serves estimate reads and triggers estimation runs. The
// handlers are a thin boundary; all estimation logic lives in the services
// package.
type ElasticityHandler struct {
	estimator    *services.BatchEstimator
	estimates    *database.ElasticityRepository
	observations *database.ObservationRepository
	promotions   *database.PromotionRepository
	cache        *cache.RedisEstimateCache
	logger       *logrus.Logger
}

// NewElasticityHandler wires the handler. The cache may be nil.
func NewElasticityHandler(
	estimator *services.BatchEstimator,
	estimates *database.ElasticityRepository,
	observations *database.ObservationRepository,
	promotions *database.PromotionRepository,
	estimateCache *cache.RedisEstimateCache,
	logger *logrus.Logger,
) *ElasticityHandler {
	return &ElasticityHandler{
		estimator:    estimator,
		estimates:    estimates,
		observations: observations,
		promotions:   promotions,
		cache:        estimateCache,
		logger:       logger,
	}
}

// GetEstimate returns the item's current elasticity estimate, preferring the
// cache over Postgres.
func (h *ElasticityHandler) GetEstimate(c *gin.Context) {
	restaurantID, itemID, ok := pathIDs(c)
	if !ok {
		return
	}

	if h.cache != nil {
		if estimate := h.cache.Get(c.Request.Context(), restaurantID, itemID); estimate != nil {
			c.JSON(http.StatusOK, estimate)
			return
		}
	}

	estimate, err := h.estimates.GetEstimate(c.Request.Context(), restaurantID, itemID)
	if err != nil {
		h.logger.WithError(err).WithField("item_id", itemID).Error("Failed to load estimate")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load estimate"})
		return
	}
	if estimate == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no estimate for item"})
		return
	}

	if h.cache != nil {
		h.cache.Set(c.Request.Context(), estimate)
	}
	c.JSON(http.StatusOK, estimate)
}

// EstimateRestaurant runs promotion inference and elasticity estimation for
// every menu item of the restaurant.
func (h *ElasticityHandler) EstimateRestaurant(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Param("restaurant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid restaurant_id"})
		return
	}

	result, err := h.estimator.EstimateAll(c.Request.Context(), restaurantID)
	if err != nil {
		h.logger.WithError(err).WithField("restaurant_id", restaurantID).Error("Batch estimation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch estimation failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// EstimateItem runs the full pipeline for a single item and returns the
// fresh estimate.
func (h *ElasticityHandler) EstimateItem(c *gin.Context) {
	restaurantID, itemID, ok := pathIDs(c)
	if !ok {
		return
	}

	item, err := h.observations.MenuItem(c.Request.Context(), restaurantID, itemID)
	if err != nil {
		h.logger.WithError(err).WithField("item_id", itemID).Error("Failed to load menu item")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load menu item"})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "menu item not found"})
		return
	}

	estimate, err := h.estimator.EstimateItem(c.Request.Context(), *item)
	if err != nil {
		h.logger.WithError(err).WithField("item_id", itemID).Error("Item estimation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "estimation failed"})
		return
	}

	c.JSON(http.StatusOK, estimate)
}

// GetPromotions returns the item's inferred promotion periods over the last
// year.
func (h *ElasticityHandler) GetPromotions(c *gin.Context) {
	restaurantID, itemID, ok := pathIDs(c)
	if !ok {
		return
	}

	since := time.Now().AddDate(-1, 0, 0)
	periods, err := h.promotions.PeriodsForItem(c.Request.Context(), restaurantID, itemID, since)
	if err != nil {
		h.logger.WithError(err).WithField("item_id", itemID).Error("Failed to load promotion periods")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load promotion periods"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"promotions": periods, "count": len(periods)})
}

func pathIDs(c *gin.Context) (restaurantID, itemID uuid.UUID, ok bool) {
	restaurantID, err := uuid.Parse(c.Param("restaurant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid restaurant_id"})
		return uuid.Nil, uuid.Nil, false
	}
	itemID, err = uuid.Parse(c.Param("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item_id"})
		return uuid.Nil, uuid.Nil, false
	}
	return restaurantID, itemID, true
}
