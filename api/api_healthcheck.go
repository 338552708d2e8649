package api

import (
	"net/http"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/gin-gonic/gin"
)

type HealthCheckAPI struct {
}

func NewHealthCheckAPI() *HealthCheckAPI {
	return &HealthCheckAPI{}
}

func (ha *HealthCheckAPI) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, types.HealthResponse{Status: "ok", Version: global.Conf.Version, Mode: global.Conf.Mode})
}
