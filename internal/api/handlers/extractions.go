package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/extraction"
	"github.com/your-org/facegate/internal/labeling"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/promotion"
	"github.com/your-org/facegate/pkg/dto"
)

type ExtractionHandler struct {
	engine    *extraction.Engine
	labels    *labeling.Service
	promotion *promotion.Service
	maxUpload int64
}

func NewExtractionHandler(engine *extraction.Engine, labels *labeling.Service, promo *promotion.Service, maxUpload int64) *ExtractionHandler {
	return &ExtractionHandler{engine: engine, labels: labels, promotion: promo, maxUpload: maxUpload}
}

// Start accepts a multipart "file" upload and returns the job id at once;
// extraction continues in the background.
func (h *ExtractionHandler) Start(c *gin.Context) {
	data, name, contentType, ok := readUpload(c, "file", h.maxUpload)
	if !ok {
		return
	}

	jobID, err := h.engine.StartJob(c.Request.Context(), extraction.StartRequest{
		Media:     data,
		Kind:      mediaKind(c.PostForm("file_type"), contentType, data),
		FileName:  name,
		Uploader:  auth.Actor(c),
		SessionID: c.PostForm("session_id"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.StartExtractionResponse{
		Success: true,
		JobID:   jobID,
		Status:  string(models.JobProcessing),
		Message: "Extraction started",
	})
}

func (h *ExtractionHandler) List(c *gin.Context) {
	var q dto.JobQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	jobs, err := h.engine.ListJobs(c.Request.Context(), auth.Actor(c), models.JobFilter{
		Status: models.JobStatus(q.Status),
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if jobs == nil {
		jobs = []extraction.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

func (h *ExtractionHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	summary, err := h.engine.GetJobStatus(c.Request.Context(), id, auth.Actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *ExtractionHandler) Clusters(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	clusters, err := h.engine.ListClusters(c.Request.Context(), id, auth.Actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "total": len(clusters)})
}

func (h *ExtractionHandler) Crop(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "invalid index")
		return
	}
	data, err := h.engine.GetFaceCrop(c.Request.Context(), id, c.Param("cluster"), index, auth.Actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *ExtractionHandler) ProposeLabel(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.ProposeLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	proposals, err := h.labels.ProposeClusterLabel(c.Request.Context(), id, c.Param("cluster"), auth.Actor(c),
		labeling.Proposal{Label: req.Label, Confidence: req.Confidence})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ProposeLabelResponse{
		Success:        true,
		Message:        "Label proposed",
		ProposedLabels: proposals,
	})
}

func (h *ExtractionHandler) Complete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.promotion.CompleteExtractionLabeling(c.Request.Context(), id, auth.Actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	msg := "Labeling completed"
	if res.AlreadyLabeled {
		msg = "Job was already labeled"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "result": res})
}
