package handler

import (
	"net/http"

	"nebula/pkg/api"
	"nebula/pkg/middleware"
	"nebula/worker/service"

	"github.com/gin-gonic/gin"
)

// WorkerHandler 调度器->Worker的三个入口：派发、kill、探活
type WorkerHandler struct {
	executeService    *service.ExecuteService
	statisticsService *service.StatisticsService
}

func NewWorkerHandler(executeService *service.ExecuteService,
	statisticsService *service.StatisticsService) *WorkerHandler {
	return &WorkerHandler{
		executeService:    executeService,
		statisticsService: statisticsService,
	}
}

func InitHttpHandler(executeService *service.ExecuteService,
	statisticsService *service.StatisticsService) *gin.Engine {
	h := NewWorkerHandler(executeService, statisticsService)

	router := gin.Default()
	router.Use(middleware.PrintGinHeader)

	router.POST("/run-job", h.RunJob)
	router.POST("/kill-job", h.KillJob)
	router.GET("/status", h.Status)

	return router
}

func (h *WorkerHandler) RunJob(c *gin.Context) {
	var req api.RunJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, &api.RunJobResponse{Accepted: false, Message: err.Error()})
		return
	}
	if req.Job == nil {
		c.JSON(http.StatusBadRequest, &api.RunJobResponse{Accepted: false, Message: "empty job"})
		return
	}

	accepted, message := h.executeService.Submit(&req)
	c.JSON(http.StatusOK, &api.RunJobResponse{Accepted: accepted, Message: message})
}

func (h *WorkerHandler) KillJob(c *gin.Context) {
	var req api.KillJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, &api.KillJobResponse{Killed: false, Message: err.Error()})
		return
	}

	killed := h.executeService.Kill(req.JobRunID)
	c.JSON(http.StatusOK, &api.KillJobResponse{Killed: killed})
}

func (h *WorkerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.statisticsService.GetStatus())
}
