package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"nebula/pkg/constance"
	"nebula/scheduler/broadcast"
	"nebula/scheduler/dag"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"
	"nebula/scheduler/service"

	"github.com/cloudwego/kitex/pkg/klog"
	"github.com/gin-gonic/gin"
)

// WorkflowHandler 工作流定义和生命周期的控制面入口。
// 上线/下线先在本节点落库（错误能同步返回给调用方），成功后广播给其他节点
type WorkflowHandler struct {
	workflowService *service.WorkflowService
	broadcaster     broadcast.Broadcaster
	originNode      string
}

func NewWorkflowHandler(workflowService *service.WorkflowService,
	broadcaster broadcast.Broadcaster, originNode string) *WorkflowHandler {
	return &WorkflowHandler{
		workflowService: workflowService,
		broadcaster:     broadcaster,
		originNode:      originNode,
	}
}

func (h *WorkflowHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/workflow", h.CreateWorkflow)
	router.GET("/workflow/:id", h.GetWorkflow)
	router.POST("/workflow/:id/online", h.OnlineWorkflow)
	router.POST("/workflow/:id/offline", h.OfflineWorkflow)
	router.POST("/workflow/:id/trigger", h.TriggerWorkflow)

	router.POST("/workflow/:id/job", h.AddJob)
	router.PUT("/workflow/:id/job", h.UpdateJob)
	router.DELETE("/workflow/:id/job/:jobId", h.DeleteJob)

	router.POST("/workflow/:id/dependency", h.AddDependency)
	router.DELETE("/workflow/:id/dependency/:depId", h.DeleteDependency)
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.FailResult(constance.ResultInternalError, "invalid "+name))
		return 0, false
	}
	return uint(v), true
}

// failCode 业务错误翻译成UI可以分流的返回码
func failCode(err error) constance.ResultCode {
	switch {
	case errors.Is(err, dag.ErrCycleDetected):
		return constance.ResultCycleDetected
	case errors.Is(err, schedule_operator.ErrNotFound):
		return constance.ResultWorkflowNotFound
	default:
		return constance.ResultInternalError
	}
}

func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	var workflow model.Workflow
	if err := c.ShouldBindJSON(&workflow); err != nil {
		c.JSON(http.StatusBadRequest, model.FailResult(constance.ResultInternalError, err.Error()))
		return
	}

	if err := h.workflowService.CreateWorkflow(c.Request.Context(), &workflow); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.OkResult(workflow))
}

func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	workflow, err := h.workflowService.FetchWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.OkResult(workflow))
}

func (h *WorkflowHandler) OnlineWorkflow(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	run, err := h.workflowService.OnlineWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}

	payload := &model.WorkflowOpPayload{WorkflowID: workflowID}
	if run != nil {
		payload.WorkflowRunID = run.ID
	}
	h.publishWorkflowEvent(c.Request.Context(), model.WorkflowOpOnline, payload)
	c.JSON(http.StatusOK, model.OkResult(run))
}

func (h *WorkflowHandler) OfflineWorkflow(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.workflowService.OfflineWorkflow(c.Request.Context(), workflowID); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}

	h.publishWorkflowEvent(c.Request.Context(), model.WorkflowOpOffline, &model.WorkflowOpPayload{WorkflowID: workflowID})
	c.JSON(http.StatusOK, model.OkResult(nil))
}

func (h *WorkflowHandler) TriggerWorkflow(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	run, err := h.workflowService.TriggerWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}

	h.publishWorkflowEvent(c.Request.Context(), model.WorkflowOpManualTrigger, &model.WorkflowOpPayload{
		WorkflowID:    workflowID,
		WorkflowRunID: run.ID,
	})
	c.JSON(http.StatusOK, model.OkResult(run))
}

func (h *WorkflowHandler) AddJob(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var job model.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, model.FailResult(constance.ResultInternalError, err.Error()))
		return
	}
	job.WorkflowID = workflowID

	if err := h.workflowService.AddJob(c.Request.Context(), &job); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.OkResult(job))
}

func (h *WorkflowHandler) UpdateJob(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var job model.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, model.FailResult(constance.ResultInternalError, err.Error()))
		return
	}
	job.WorkflowID = workflowID

	if err := h.workflowService.UpdateJob(c.Request.Context(), &job); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.OkResult(job))
}

func (h *WorkflowHandler) DeleteJob(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	jobID, ok := parseUintParam(c, "jobId")
	if !ok {
		return
	}

	if err := h.workflowService.DeleteJob(c.Request.Context(), workflowID, jobID); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.OkResult(nil))
}

func (h *WorkflowHandler) AddDependency(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var dep model.Dependency
	if err := c.ShouldBindJSON(&dep); err != nil {
		c.JSON(http.StatusBadRequest, model.FailResult(constance.ResultInternalError, err.Error()))
		return
	}
	dep.WorkflowID = workflowID

	if err := h.workflowService.AddDependency(c.Request.Context(), &dep); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.OkResult(dep))
}

func (h *WorkflowHandler) DeleteDependency(c *gin.Context) {
	workflowID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	depID, ok := parseUintParam(c, "depId")
	if !ok {
		return
	}

	if err := h.workflowService.DeleteDependency(c.Request.Context(), workflowID, depID); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.OkResult(nil))
}

func (h *WorkflowHandler) publishWorkflowEvent(ctx context.Context, op model.WorkflowOp, payload *model.WorkflowOpPayload) {
	event := model.NewWorkflowEvent(op, h.originNode, payload)
	if err := h.broadcaster.Publish(ctx, event); err != nil {
		klog.Errorf("failed to publish workflow event:%v, op:%v, error:%v", event.EventID, op, err)
	}
}
