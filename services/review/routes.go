// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package review

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// SetupRoutes registers the HTTP surface on a gin engine.
func SetupRoutes(router *gin.Engine, h *Handlers) {
	router.Use(otelgin.Middleware("agnusai"))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/health", h.HandleHealth)
		v1.POST("/webhook/github", h.HandleWebhook)
		v1.GET("/feedback", h.HandleFeedback)
		v1.GET("/index/:owner/:name/status", h.HandleIndexStatus)
	}
}
