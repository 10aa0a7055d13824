package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/pothole-prioritizer/backend/internal/config"
	"github.com/pothole-prioritizer/backend/internal/detect"
	"github.com/pothole-prioritizer/backend/internal/geocode"
	"github.com/pothole-prioritizer/backend/internal/http/handlers"
	"github.com/pothole-prioritizer/backend/internal/http/middleware"
	"github.com/pothole-prioritizer/backend/internal/service"

	_ "github.com/pothole-prioritizer/backend/docs"
)

func Router(cfg config.Config, intake *service.IntakeService, detector detect.Adapter, geocoder geocode.Geocoder, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     intake.Store,
		Intake:    intake,
		Detector:  detector,
		Geocoder:  geocoder,
		Validator: validator.New(),
		Logger:    logger,
		Timeout:   cfg.RequestTimeout,
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/reports", h.SubmitReport)
		api.POST("/reports/:id/confirm", h.ConfirmReport)
		api.POST("/reports/:id/vote", h.VoteReport)
		api.GET("/reports", h.ReportsList)
		api.GET("/reports/:id", h.ReportDetails)
		api.GET("/track/:reference", h.TrackReport)
		api.GET("/stats", h.PublicStats)
		api.POST("/analyze", h.AnalyzeImage)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.PATCH("/reports/:id/status", h.UpdateStatus)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
