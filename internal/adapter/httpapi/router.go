// Package httpapi exposes the valuation engine over REST.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantfolio/indexd/internal/domain"
)

// Config carries the handlers and optional capabilities the router mounts
type Config struct {
	IndexHandler *IndexHandler

	// Capability routes are mounted only when a collaborator provides them
	Admin      domain.AdminCapability
	Events     domain.EventSink
	Subscriber domain.Subscriber
}

// NewRouter builds the gin engine with all routes registered
func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	api := router.Group("/v1/")
	registerIndexRoutes(api, cfg.IndexHandler)
	registerCapabilityRoutes(api, cfg)

	return router
}

func registerIndexRoutes(router *gin.RouterGroup, h *IndexHandler) {
	router.POST("/create-index", h.CreateIndex)
	router.GET("/get-index-config/:id", h.GetIndexConfig)
	router.GET("/current-index-weight/:id", h.CurrentIndexWeight)
	router.GET("/fetch-index-historical-data/:id", h.HistoricalData)
	router.GET("/fetch-coin-historical-data/:coinId", h.CoinHistoricalData)
	router.GET("/download-daily-price-data/:id", h.DownloadDailyPriceData)
	router.POST("/add-tokens", h.AddTokens)

	indexes := router.Group("/indexes")
	{
		indexes.GET("", h.ListIndexes)
		indexes.GET("/:id/last-price", h.LastPrice)
		indexes.GET("/:id/price-at-date", h.PriceAtDate)
	}
}

func registerCapabilityRoutes(router *gin.RouterGroup, cfg *Config) {
	if cfg.Admin != nil {
		router.POST("/remove-index/:id", func(c *gin.Context) {
			id, ok := indexID(c)
			if !ok {
				return
			}
			if err := cfg.Admin.RemoveIndex(c.Request.Context(), id); err != nil {
				respondError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}

	if cfg.Events != nil {
		router.POST("/save-blockchain-event", func(c *gin.Context) {
			payload, err := c.GetRawData()
			if err != nil {
				c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable payload"})
				return
			}
			if err := cfg.Events.SaveBlockchainEvent(c.Request.Context(), payload); err != nil {
				respondError(c, err)
				return
			}
			c.Status(http.StatusAccepted)
		})
	}

	if cfg.Subscriber != nil {
		router.POST("/subscribe", func(c *gin.Context) {
			var req subscribeRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
				return
			}
			if err := cfg.Subscriber.Subscribe(c.Request.Context(), req.Email, req.Twitter); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, subscribeResponse{Success: true})
		})
	}
}
