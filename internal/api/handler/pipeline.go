package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/service"
)

// Ingester runs the ingestion step.
type Ingester interface {
	Run(ctx context.Context, opts *service.IngestOptions) (*service.IngestStats, error)
}

// Transformer runs the transformation step.
type Transformer interface {
	Run(ctx context.Context, opts *service.TransformOptions) (*service.TransformStats, error)
}

// RunHistory looks up the most recent pipeline runs.
type RunHistory interface {
	Latest(ctx context.Context, kind domain.RunKind) (*domain.PipelineRun, error)
}

// PipelineHandler lets an operator trigger pipeline steps over HTTP. One step
// runs at a time; a run outlives the request that started it.
type PipelineHandler struct {
	ingest    Ingester
	transform Transformer
	runs      RunHistory

	mu      sync.Mutex
	running domain.RunKind
	started time.Time
	wg      sync.WaitGroup
}

func NewPipelineHandler(ingest Ingester, transform Transformer, runs RunHistory) *PipelineHandler {
	return &PipelineHandler{ingest: ingest, transform: transform, runs: runs}
}

type TriggerRequest struct {
	Pages        int `json:"pages" binding:"omitempty,min=1,max=1000"`
	MaxDocuments int `json:"max_documents" binding:"omitempty,min=1"`
}

type PipelineStatusResponse struct {
	Running   string              `json:"running,omitempty"`
	StartedAt *time.Time          `json:"started_at,omitempty"`
	Ingest    *domain.PipelineRun `json:"last_ingest,omitempty"`
	Transform *domain.PipelineRun `json:"last_transform,omitempty"`
}

// TriggerIngest handles POST /api/admin/pipeline/ingest.
func (h *PipelineHandler) TriggerIngest(c *gin.Context) {
	var req TriggerRequest
	if !h.bind(c, &req) {
		return
	}
	h.start(c, domain.RunKindIngest, func(ctx context.Context) error {
		_, err := h.ingest.Run(ctx, &service.IngestOptions{Pages: req.Pages})
		return err
	})
}

// TriggerTransform handles POST /api/admin/pipeline/transform.
func (h *PipelineHandler) TriggerTransform(c *gin.Context) {
	var req TriggerRequest
	if !h.bind(c, &req) {
		return
	}
	h.start(c, domain.RunKindTransform, func(ctx context.Context) error {
		_, err := h.transform.Run(ctx, &service.TransformOptions{MaxDocuments: req.MaxDocuments})
		return err
	})
}

// Status handles GET /api/admin/pipeline/status.
func (h *PipelineHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	var resp PipelineStatusResponse

	h.mu.Lock()
	if h.running != "" {
		started := h.started
		resp.Running = string(h.running)
		resp.StartedAt = &started
	}
	h.mu.Unlock()

	var err error
	if resp.Ingest, err = h.runs.Latest(ctx, domain.RunKindIngest); err != nil {
		writeError(c, err)
		return
	}
	if resp.Transform, err = h.runs.Latest(ctx, domain.RunKindTransform); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Wait blocks until the background run, if any, has finished.
func (h *PipelineHandler) Wait() {
	h.wg.Wait()
}

func (h *PipelineHandler) bind(c *gin.Context, req *TriggerRequest) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		bindError(c, err)
		return false
	}
	return true
}

func (h *PipelineHandler) start(c *gin.Context, kind domain.RunKind, run func(context.Context) error) {
	ctx := c.Request.Context()

	h.mu.Lock()
	if h.running != "" {
		current := h.running
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Pipeline request rejected: %s already running, client_ip=%s", current, c.ClientIP())
		c.JSON(http.StatusConflict, gin.H{"error": "A " + string(current) + " run is already in progress"})
		return
	}
	h.running = kind
	h.started = time.Now()
	h.wg.Add(1)
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting %s run: client_ip=%s", kind, c.ClientIP())

	// The run keeps the request's log fields but not its cancellation.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer h.wg.Done()
		start := time.Now()
		err := run(runCtx)

		h.mu.Lock()
		h.running = ""
		h.mu.Unlock()

		entry := logger.With(logger.Fields{"kind": kind}).WithDuration(time.Since(start).Milliseconds())
		if err != nil {
			entry.WithStatus(string(domain.RunStatusFailed)).Error(runCtx, "%s run failed: %v", kind, err)
			return
		}
		entry.WithStatus(string(domain.RunStatusCompleted)).Info(runCtx, "%s run finished", kind)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message":    string(kind) + " started",
		"request_id": logger.GetRequestID(ctx),
	})
}
