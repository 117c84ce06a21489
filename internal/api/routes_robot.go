package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/robotdesk/internal/handlers"
)

type robotRouteDeps struct {
	RobotHandler *handlers.RobotHandler
}

func registerRobotRoutes(api *gin.RouterGroup, deps robotRouteDeps) {
	robot := api.Group("/robot")
	{
		robot.GET("/config", deps.RobotHandler.GetConfig)
		robot.PUT("/config", deps.RobotHandler.UpdateConfig)
		robot.POST("/token/refresh", deps.RobotHandler.RefreshToken)

		robot.GET("/robots", deps.RobotHandler.ListRobots)
		robot.GET("/stores", deps.RobotHandler.ListStores)
		robot.GET("/targets", deps.RobotHandler.ListTargets)
		robot.POST("/call-task", deps.RobotHandler.CallTask)
		robot.GET("/calls", deps.RobotHandler.ListCalls)
	}
}
