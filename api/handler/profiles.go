package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/session"
)

// ListProfiles returns a handler for GET /api/v1/profiles.
func ListProfiles(sm *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		profiles, err := sm.ListProfiles()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.ProfileListResponse{
			Success:        true,
			Profiles:       profiles,
			ActiveSessions: sm.ActiveCount(),
		})
	}
}

// DeleteProfile returns a handler for DELETE /api/v1/profiles/:user_id.
func DeleteProfile(sm *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sm.DeleteProfile(c.Param("user_id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
