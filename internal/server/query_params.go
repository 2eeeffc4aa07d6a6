package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param(name))
	if raw == "" {
		return 0, newValidationError(name, "required", name+" is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError(name, "invalid_id", "invalid "+name)
	}
	return id, nil
}
