package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// envelope is the uniform response body of the REST API.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: http.StatusOK, Message: "ok", Data: data})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, envelope{Code: status, Message: msg})
}
