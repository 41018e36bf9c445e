package handler

import (
	"github.com/gin-gonic/gin"
)

// Routes groups the handlers and the middleware guarding them.
type Routes struct {
	Auth           *AuthHandler
	Admin          *AdminHandler
	Events         *EventHandler
	Participations *ParticipationHandler
	Notifications  *NotificationHandler
	Dashboard      *DashboardHandler

	// Session requires a signed-in caller; OptionalSession only attaches one
	// when a valid token is sent. RequireAdmin runs the access guard.
	Session         gin.HandlerFunc
	OptionalSession gin.HandlerFunc
	RequireAdmin    gin.HandlerFunc
	AuthLimiter     gin.HandlerFunc
}

// Register mounts every API route under api.
func (r Routes) Register(api *gin.RouterGroup) {
	auth := api.Group("/auth")
	auth.POST("/register", r.limited(r.Auth.Register)...)
	auth.POST("/login", r.limited(r.Auth.Login)...)
	auth.POST("/refresh", r.limited(r.Auth.Refresh)...)
	auth.POST("/logout", r.Session, r.Auth.Logout)
	auth.GET("/me", r.Session, r.Auth.Me)

	api.GET("/events", r.optional(r.Events.List)...)
	api.GET("/events/:id", r.optional(r.Events.Get)...)
	api.POST("/events/:id/participations", r.Session, r.Participations.Request)

	me := api.Group("/me", r.Session)
	me.GET("/participations", r.Participations.ListMine)
	me.GET("/notifications", r.Notifications.List)
	me.POST("/notifications/:id/read", r.Notifications.MarkRead)

	api.GET("/admin/access", r.Admin.Access)

	admin := api.Group("/admin", r.RequireAdmin)
	admin.GET("/users", r.Admin.ListUsers)
	admin.POST("/users/approval", r.Admin.SetApproval)
	admin.POST("/users/role", r.Admin.SetRole)
	admin.GET("/dashboard", r.Dashboard.Stats)
	admin.GET("/events", r.Events.List)
	admin.GET("/events/export", r.Events.Export)
	admin.POST("/events", r.Events.Create)
	admin.GET("/events/:id", r.Events.Get)
	admin.PUT("/events/:id", r.Events.Update)
	admin.PATCH("/events/:id", r.Events.Update)
	admin.DELETE("/events/:id", r.Events.Delete)
	admin.GET("/events/:id/participations", r.Participations.ListByEvent)
	admin.PATCH("/participations/:id", r.Participations.Review)
}

func (r Routes) limited(h gin.HandlerFunc) []gin.HandlerFunc {
	if r.AuthLimiter == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{r.AuthLimiter, h}
}

func (r Routes) optional(h gin.HandlerFunc) []gin.HandlerFunc {
	if r.OptionalSession == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{r.OptionalSession, h}
}
