package task

import (
	"net/http"
	"strconv"
	"time"

	"taskdesk/pkg/db/pagination"
	"taskdesk/pkg/errutil"
	"taskdesk/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Handler exposes the lifecycle engine over HTTP. It only translates; every
// rule lives in Service.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	g := r.Group("/v1/tasks", middleware.Actor())
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/logs", h.logs)
	g.POST("/scan", h.scan)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/accept", h.accept)
	g.POST("/:id/reject", h.reject)
	g.POST("/:id/complete", h.complete)
	g.POST("/:id/reassign", h.reassign)
	g.POST("/:id/retry", h.requestRetry)
	g.POST("/:id/retry/accept", h.acceptRetry)
	g.POST("/:id/remarks", h.addRemark)
	g.POST("/:id/subtasks", h.addSubtask)
	g.POST("/:id/subtasks/:index/complete", h.completeSubtask)
	g.POST("/:id/comments", h.addComment)
}

func actorOf(c *gin.Context) Actor {
	id, role := middleware.ActorFrom(c)
	return Actor{ID: id, Role: role}
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func respond(c *gin.Context, code int, body any, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(code, body)
}

func (h *Handler) create(c *gin.Context) {
	var in CreateTaskInput
	if !bind(c, &in) {
		return
	}
	t, err := h.svc.CreateTask(c.Request.Context(), actorOf(c), in)
	respond(c, http.StatusCreated, t, err)
}

type listQuery struct {
	AssignedTo   string `form:"assigned_to"`
	AssignedBy   string `form:"assigned_by"`
	ClientID     string `form:"client_id"`
	Status       string `form:"status"`
	CreatedSince string `form:"created_since"`
	Search       string `form:"q"`
	pagination.Pagination
}

func parseTime(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, errutil.BadRequest("invalid "+field, err, errutil.WithDetails(errutil.Detail{Field: field, Message: "RFC3339 or YYYY-MM-DD"}))
	}
	return &t, nil
}

func (h *Handler) list(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	since, err := parseTime("created_since", q.CreatedSince)
	if err != nil {
		_ = c.Error(err)
		return
	}

	tasks, page, err := h.svc.ListTasks(c.Request.Context(), actorOf(c), Filter{
		AssignedTo:   q.AssignedTo,
		AssignedBy:   q.AssignedBy,
		ClientID:     q.ClientID,
		Status:       Status(q.Status),
		CreatedSince: since,
		Search:       q.Search,
		Pagination:   q.Pagination,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tasks, "page_info": page})
}

func (h *Handler) logs(c *gin.Context) {
	since, err := parseTime("since", c.Query("since"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			_ = c.Error(errutil.BadRequest("invalid limit", err, errutil.WithDetails(errutil.Detail{Field: "limit", Message: "non-negative integer"})))
			return
		}
		limit = n
	}

	logs, err := h.svc.GetTaskLogs(c.Request.Context(), actorOf(c), LogFilter{
		TaskID: c.Query("task_id"),
		By:     c.Query("by"),
		Action: Action(c.Query("action")),
		Since:  since,
		Limit:  limit,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

func (h *Handler) scan(c *gin.Context) {
	report, err := h.svc.RunScan(c.Request.Context(), actorOf(c))
	respond(c, http.StatusOK, report, err)
}

func (h *Handler) get(c *gin.Context) {
	t, err := h.svc.GetTask(c.Request.Context(), actorOf(c), c.Param("id"))
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.DeleteTask(c.Request.Context(), actorOf(c), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) accept(c *gin.Context) {
	t, err := h.svc.AcceptTask(c.Request.Context(), actorOf(c), c.Param("id"))
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) reject(c *gin.Context) {
	var in struct {
		Reason string `json:"reason"`
	}
	if !bind(c, &in) {
		return
	}
	t, err := h.svc.RejectTask(c.Request.Context(), actorOf(c), c.Param("id"), in.Reason)
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) complete(c *gin.Context) {
	t, err := h.svc.CompleteTask(c.Request.Context(), actorOf(c), c.Param("id"))
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) reassign(c *gin.Context) {
	var in ReassignInput
	if !bind(c, &in) {
		return
	}
	t, err := h.svc.ReassignTask(c.Request.Context(), actorOf(c), c.Param("id"), in)
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) requestRetry(c *gin.Context) {
	var in RemarkInput
	if !bind(c, &in) {
		return
	}
	t, err := h.svc.RequestRetry(c.Request.Context(), actorOf(c), c.Param("id"), in)
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) acceptRetry(c *gin.Context) {
	var in struct {
		AssignTo string `json:"assign_to"`
	}
	if c.Request.ContentLength > 0 && !bind(c, &in) {
		return
	}
	t, err := h.svc.AcceptRetry(c.Request.Context(), actorOf(c), c.Param("id"), in.AssignTo)
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) addRemark(c *gin.Context) {
	var in RemarkInput
	if !bind(c, &in) {
		return
	}
	t, err := h.svc.AddRemark(c.Request.Context(), actorOf(c), c.Param("id"), in)
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) addSubtask(c *gin.Context) {
	var in SubtaskInput
	if !bind(c, &in) {
		return
	}
	t, err := h.svc.AddSubtask(c.Request.Context(), actorOf(c), c.Param("id"), in)
	respond(c, http.StatusCreated, t, err)
}

func (h *Handler) completeSubtask(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		_ = c.Error(errutil.ValidationFailed("subtask index must be a number", err))
		return
	}
	t, err := h.svc.CompleteSubtask(c.Request.Context(), actorOf(c), c.Param("id"), index)
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) addComment(c *gin.Context) {
	var in struct {
		Text string `json:"text"`
	}
	if !bind(c, &in) {
		return
	}
	t, err := h.svc.AddComment(c.Request.Context(), actorOf(c), c.Param("id"), in.Text)
	respond(c, http.StatusCreated, t, err)
}
