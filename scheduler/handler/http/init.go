package http

import (
	"net/http"

	"nebula/pkg/middleware"
	"nebula/scheduler/app"

	"github.com/gin-gonic/gin"
)

func InitHttpHandler(scheduler *app.Scheduler) *gin.Engine {
	workflowHandler := NewWorkflowHandler(scheduler.GetWorkflowService(),
		scheduler.GetBroadcaster(), scheduler.GetInstanceID())
	jobRunHandler := NewJobRunHandler(scheduler.GetJobRunService(),
		scheduler.GetScheduleOperator(), scheduler.GetBroadcaster(), scheduler.GetInstanceID())
	workerHandler := NewWorkerHandler(scheduler.GetJobRunService(),
		scheduler.GetShardingService(), scheduler.GetWorkerManageService())

	router := gin.Default()
	router.Use(middleware.PrintGinHeader)

	//服务发现的健康检查端点
	router.GET("/status", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	v1 := router.Group("/v1")
	workflowHandler.RegisterRoutes(v1)
	jobRunHandler.RegisterRoutes(v1)
	workerHandler.RegisterRoutes(v1)

	return router
}
