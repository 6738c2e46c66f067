package api

import (
	"github.com/gin-gonic/gin"

	"mnemograph/internal/config"
	"mnemograph/pkg/ratelimiter"
)

// SetupRouter wires the memory endpoints into a Gin engine. Auth and rate
// limiting are applied per configuration.
func SetupRouter(h *Handler, cfg *config.AppConfig) *gin.Engine {
	r := gin.Default()

	r.GET("/health", h.Health)

	memory := r.Group("/api/v1/memory")
	if cfg.RateLimiter.Enabled {
		limiter := ratelimiter.NewTokenBucket(cfg.RateLimiter.Rate, cfg.RateLimiter.Capacity)
		memory.Use(RateLimitMiddleware(limiter))
	}
	if cfg.Auth.Enabled {
		memory.Use(AuthMiddleware(cfg.Auth.JwtSecret))
	}
	{
		memory.POST("/episodes", h.AddEpisode)
		memory.POST("/episodes/batch", h.AddEpisodes)
		memory.POST("/search", h.Search)

		facts := memory.Group("/facts")
		{
			facts.POST("", h.AddFact)
			facts.GET("", h.ListFacts)
			facts.POST("/invalidate", h.InvalidateFact)
		}

		entities := memory.Group("/entities")
		{
			entities.PATCH("", h.UpdateEntity)
			entities.DELETE("", h.DeleteEntity)
		}
	}

	return r
}
