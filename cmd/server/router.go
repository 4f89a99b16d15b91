package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thereayou/cabal/internal/handlers"
	"github.com/thereayou/cabal/internal/middleware"
)

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(s.log), middleware.Metrics())
	APIEndpoints(r, s)
	return r
}

func APIEndpoints(r *gin.Engine, s *Server) {
	var (
		resolver middleware.TokenResolver
		accounts handlers.AccountNames
	)
	if s.Auth != nil {
		resolver = s.Auth
	}
	if s.DB != nil {
		accounts = s.DB
	}

	roomH := handlers.NewRoomHandler(s.Rooms)
	messageH := handlers.NewHTTPMessageHandler(s.Messages, s.Rooms)
	userH := handlers.NewUserHandler(s.Hub)
	wsH := handlers.NewWebSocketHandler(s.ctx, s.Chat, accounts, s.cfg.SendBufferSize, s.log)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.Hub.Len(), "rooms": s.Rooms.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", middleware.WSAuthMiddleware(resolver, s.cfg.AuthRequired), wsH.HandleWebSocket)

	// Auth endpoints
	if s.Auth != nil {
		authH := handlers.NewAuthHandler(s.Auth, s.log)
		auth := r.Group("/auth")
		{
			auth.POST("/register", authH.Register)
			auth.POST("/login", authH.Login)
			auth.POST("/logout", authH.Logout)
		}
	}

	// API endpoints
	api := r.Group("/api")
	{
		api.GET("/rooms", roomH.ListRooms)
		api.POST("/rooms", roomH.CreateRoom)
		api.GET("/rooms/:name", roomH.GetRoom)
		api.GET("/rooms/:name/messages", messageH.GetRoomMessages)
		api.GET("/users/online", userH.OnlineUsers)
		if resolver != nil {
			api.GET("/me", middleware.AuthMiddleware(resolver), userH.GetMe)
		}
	}
}
