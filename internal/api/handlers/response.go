// Package handlers implements the narrator HTTP API.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/audibible/narrator/internal/logx"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Error: msg})
}

// respondInternal logs err and hides it behind msg.
func respondInternal(c *gin.Context, status int, msg string, err error) {
	logx.FromCtx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Error: msg, Details: err.Error()})
}
