package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/support-chat-service/api"
	"github.com/psds-microservice/support-chat-service/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func New(chatHandler *handler.ChatHandler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tickets", chatHandler.ListTickets)
		v1.POST("/tickets", chatHandler.StartTicket)
		v1.POST("/tickets/:id/select", chatHandler.SelectTicket)
		v1.GET("/tickets/:id/messages", chatHandler.ListMessages)
		v1.POST("/tickets/:id/messages", chatHandler.SendMessage)
		v1.POST("/tickets/:id/close", chatHandler.CloseTicket)
		v1.POST("/tickets/:id/reopen", chatHandler.ReopenTicket)
		v1.GET("/conversation", chatHandler.Conversation)
		v1.GET("/organizations", chatHandler.ListOrganizations)
		v1.GET("/badge", chatHandler.Badge)
		v1.POST("/view", chatHandler.SetView)
		v1.GET("/events", chatHandler.Events)
	}

	return r
}
