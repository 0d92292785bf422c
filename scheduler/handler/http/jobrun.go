package http

import (
	"context"
	"net/http"

	"nebula/scheduler/broadcast"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"
	"nebula/scheduler/service"

	"github.com/cloudwego/kitex/pkg/klog"
	"github.com/gin-gonic/gin"
)

// JobRunHandler 运行实例的查询和人工干预。
// 干预操作本节点先落地，成功后广播，其他节点幂等重放
type JobRunHandler struct {
	jobRunService    *service.JobRunService
	scheduleOperator schedule_operator.Operator
	broadcaster      broadcast.Broadcaster
	originNode       string
}

func NewJobRunHandler(jobRunService *service.JobRunService,
	scheduleOperator schedule_operator.Operator, broadcaster broadcast.Broadcaster,
	originNode string) *JobRunHandler {
	return &JobRunHandler{
		jobRunService:    jobRunService,
		scheduleOperator: scheduleOperator,
		broadcaster:      broadcaster,
		originNode:       originNode,
	}
}

func (h *JobRunHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/workflow-run/:id", h.GetWorkflowRun)
	router.POST("/workflow-run/:id/kill", h.KillWorkflowRun)
	router.POST("/workflow-run/:id/rerun", h.RerunWorkflowRun)

	router.GET("/job-run/:id", h.GetJobRun)
	router.POST("/job-run/:id/kill", h.KillJobRun)
	router.POST("/job-run/:id/pass", h.PassJobRun)
	router.POST("/job-run/:id/retry", h.RetryJobRun)
	router.POST("/job-run/:id/mark-failed", h.MarkFailedJobRun)
}

// workflowRunView 运行实例加上它的全部任务实例
type workflowRunView struct {
	Run     *model.WorkflowRun `json:"run"`
	JobRuns []*model.JobRun    `json:"jobRuns"`
}

func (h *JobRunHandler) GetWorkflowRun(c *gin.Context) {
	runID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	run, err := h.scheduleOperator.FetchWorkflowRunFromID(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	jobRuns, err := h.scheduleOperator.FindJobRunsByWorkflowRunID(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.OkResult(&workflowRunView{Run: run, JobRuns: jobRuns}))
}

func (h *JobRunHandler) KillWorkflowRun(c *gin.Context) {
	runID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.jobRunService.KillWorkflowRun(c.Request.Context(), runID); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}

	h.publishWorkflowEvent(c.Request.Context(), model.WorkflowOpKillRun, &model.WorkflowOpPayload{WorkflowRunID: runID})
	c.JSON(http.StatusOK, model.OkResult(nil))
}

type rerunRequest struct {
	WithDownstream bool `json:"withDownstream"`
}

func (h *JobRunHandler) RerunWorkflowRun(c *gin.Context) {
	runID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var req rerunRequest
	//body可以不带，默认只重跑失败节点
	_ = c.ShouldBindJSON(&req)

	if err := h.jobRunService.RerunWorkflowRun(c.Request.Context(), runID, req.WithDownstream); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}

	h.publishWorkflowEvent(c.Request.Context(), model.WorkflowOpRerun, &model.WorkflowOpPayload{
		WorkflowRunID:  runID,
		WithDownstream: req.WithDownstream,
	})
	c.JSON(http.StatusOK, model.OkResult(nil))
}

func (h *JobRunHandler) GetJobRun(c *gin.Context) {
	jobRunID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	run, err := h.scheduleOperator.FetchJobRunFromID(c.Request.Context(), jobRunID)
	if err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.OkResult(run))
}

func (h *JobRunHandler) KillJobRun(c *gin.Context) {
	h.doJobRunOp(c, model.JobRunOpKill, h.jobRunService.KillJobRun)
}

func (h *JobRunHandler) PassJobRun(c *gin.Context) {
	h.doJobRunOp(c, model.JobRunOpPass, h.jobRunService.PassJobRun)
}

func (h *JobRunHandler) RetryJobRun(c *gin.Context) {
	h.doJobRunOp(c, model.JobRunOpRetry, h.jobRunService.RetryJobRun)
}

func (h *JobRunHandler) MarkFailedJobRun(c *gin.Context) {
	h.doJobRunOp(c, model.JobRunOpMarkFailed, h.jobRunService.MarkFailedJobRun)
}

func (h *JobRunHandler) doJobRunOp(c *gin.Context, op model.JobRunOp,
	apply func(ctx context.Context, jobRunID uint) error) {
	jobRunID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := apply(c.Request.Context(), jobRunID); err != nil {
		c.JSON(http.StatusOK, model.FailResult(failCode(err), err.Error()))
		return
	}

	event := model.NewJobRunEvent(op, h.originNode, &model.JobRunOpPayload{JobRunID: jobRunID})
	if err := h.broadcaster.Publish(c.Request.Context(), event); err != nil {
		klog.Errorf("failed to publish job run event:%v, op:%v, error:%v", event.EventID, op, err)
	}
	c.JSON(http.StatusOK, model.OkResult(nil))
}

func (h *JobRunHandler) publishWorkflowEvent(ctx context.Context, op model.WorkflowOp, payload *model.WorkflowOpPayload) {
	event := model.NewWorkflowEvent(op, h.originNode, payload)
	if err := h.broadcaster.Publish(ctx, event); err != nil {
		klog.Errorf("failed to publish workflow event:%v, op:%v, error:%v", event.EventID, op, err)
	}
}
