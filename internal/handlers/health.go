package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/breachrange/pkg/response"
)

// RootMessage is the banner served at the API root.
const RootMessage = "Breach range lookup API. POST a 5-character SHA-1 prefix to /api/v1/pwned-range."

// Root returns the service banner.
func Root() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": RootMessage})
	}
}

// Health returns a simple status payload used when the health checks are disabled.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
