package http

import (
	"net/http"

	"nebula/pkg/api"
	"nebula/pkg/constance"
	"nebula/scheduler/model"
	"nebula/scheduler/service"

	"github.com/gin-gonic/gin"
)

// WorkerHandler Worker回调和Worker列表查询
type WorkerHandler struct {
	jobRunService       *service.JobRunService
	shardingService     *service.ShardingService
	workerManageService *service.WorkerManageService
}

func NewWorkerHandler(jobRunService *service.JobRunService,
	shardingService *service.ShardingService,
	workerManageService *service.WorkerManageService) *WorkerHandler {
	return &WorkerHandler{
		jobRunService:       jobRunService,
		shardingService:     shardingService,
		workerManageService: workerManageService,
	}
}

func (h *WorkerHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/worker/report", h.Report)
	router.GET("/worker", h.ListWorkers)
}

// Report Worker的终态上报入口。带Split的走分片协调器
func (h *WorkerHandler) Report(c *gin.Context) {
	var req api.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.FailResult(constance.ResultInternalError, err.Error()))
		return
	}

	var err error
	if req.Split != nil {
		err = h.shardingService.HandleSplitReport(c.Request.Context(), &req)
	} else {
		err = h.jobRunService.HandleReport(c.Request.Context(), &req)
	}

	if err != nil {
		c.JSON(http.StatusOK, &api.ReportResponse{Ok: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, &api.ReportResponse{Ok: true})
}

func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	wrappers := h.workerManageService.GetWorkers()
	workers := make([]*model.WorkerInfo, 0, len(wrappers))
	for _, w := range wrappers {
		workers = append(workers, w.Worker)
	}
	c.JSON(http.StatusOK, model.OkResult(workers))
}
