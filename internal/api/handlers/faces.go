package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/identity"
	"github.com/your-org/facegate/internal/labeling"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/promotion"
	"github.com/your-org/facegate/pkg/dto"
)

type FaceHandler struct {
	identity  *identity.Service
	labels    *labeling.Service
	promotion *promotion.Service
	maxUpload int64
}

func NewFaceHandler(id *identity.Service, labels *labeling.Service, promo *promotion.Service, maxUpload int64) *FaceHandler {
	return &FaceHandler{identity: id, labels: labels, promotion: promo, maxUpload: maxUpload}
}

// Upload stores a single face image for later labeling and review.
func (h *FaceHandler) Upload(c *gin.Context) {
	data, _, _, ok := readUpload(c, "image", h.maxUpload)
	if !ok {
		return
	}
	face, err := h.identity.SubmitFace(c.Request.Context(), auth.Actor(c), data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Face uploaded", "face": face})
}

func (h *FaceHandler) List(c *gin.Context) {
	var q dto.FaceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	faces, err := h.identity.ListFaces(c.Request.Context(), auth.Actor(c), models.FaceFilter{
		VerificationStatus: models.VerificationStatus(q.VerificationStatus),
		ActiveOnly:         q.ActiveOnly,
		Limit:              q.Limit,
		Offset:             q.Offset,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if faces == nil {
		faces = []models.Face{}
	}
	c.JSON(http.StatusOK, gin.H{"faces": faces, "total": len(faces)})
}

func (h *FaceHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	face, err := h.identity.GetFace(c.Request.Context(), auth.Actor(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, face)
}

func (h *FaceHandler) Image(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	data, err := h.identity.GetFaceImage(c.Request.Context(), auth.Actor(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *FaceHandler) ProposeLabel(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.ProposeLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	proposals, err := h.labels.ProposeFaceLabel(c.Request.Context(), id, auth.Actor(c),
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

func (h *FaceHandler) Verify(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.VerifyFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	face, err := h.promotion.VerifyFace(c.Request.Context(), id, auth.Actor(c), promotion.VerifyRequest{
		Decision:        models.VerificationStatus(req.Decision),
		SelectedLabel:   req.SelectedLabel,
		PersonType:      models.PersonType(req.PersonType),
		PersonID:        req.PersonID,
		CreateNewPerson: req.CreateNewPerson,
		Note:            req.Note,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Face " + req.Decision, "face": face})
}

func (h *FaceHandler) Deactivate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if _, err := h.identity.DeactivateFace(c.Request.Context(), auth.Actor(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Ack{Success: true, Message: "Face deactivated"})
}
