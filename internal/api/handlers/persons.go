package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/identity"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/pkg/dto"
)

type PersonHandler struct {
	identity  *identity.Service
	maxUpload int64
}

func NewPersonHandler(id *identity.Service, maxUpload int64) *PersonHandler {
	return &PersonHandler{identity: id, maxUpload: maxUpload}
}

// EnrollEmployee accepts multipart fields plus an "image" file.
func (h *PersonHandler) EnrollEmployee(c *gin.Context) {
	var form dto.EnrollEmployeeForm
	if err := c.ShouldBind(&form); err != nil {
		bindFailed(c, err, h.maxUpload)
		return
	}
	data, _, _, ok := readUpload(c, "image", h.maxUpload)
	if !ok {
		return
	}
	emp, face, err := h.identity.EnrollEmployee(c.Request.Context(), auth.Actor(c), identity.EmployeeInput{
		Name:       form.Name,
		EmployeeID: form.EmployeeID,
		Department: form.Department,
		Image:      data,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Employee enrolled", "person": emp, "face": face})
}

func (h *PersonHandler) EnrollVisitor(c *gin.Context) {
	var form dto.EnrollVisitorForm
	if err := c.ShouldBind(&form); err != nil {
		bindFailed(c, err, h.maxUpload)
		return
	}
	data, _, _, ok := readUpload(c, "image", h.maxUpload)
	if !ok {
		return
	}
	v, face, err := h.identity.EnrollVisitor(c.Request.Context(), auth.Actor(c), identity.VisitorInput{
		Name:      form.Name,
		Category:  form.Category,
		IsRegular: form.IsRegular,
		Image:     data,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Visitor enrolled", "person": v, "face": face})
}

func personRef(c *gin.Context) (models.PersonRef, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid person id")
		return models.PersonRef{}, false
	}
	return models.PersonRef{Type: models.PersonType(c.Param("type")), ID: id}, true
}

func (h *PersonHandler) List(c *gin.Context) {
	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	persons, err := h.identity.ListPersons(c.Request.Context(), auth.Actor(c), models.PersonType(c.Param("type")), q.Limit, q.Offset)
	if err != nil {
		fail(c, err)
		return
	}
	if persons == nil {
		persons = []models.Person{}
	}
	c.JSON(http.StatusOK, gin.H{"persons": persons, "total": len(persons)})
}

func (h *PersonHandler) Get(c *gin.Context) {
	ref, ok := personRef(c)
	if !ok {
		return
	}
	p, err := h.identity.GetPerson(c.Request.Context(), auth.Actor(c), ref)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PersonHandler) Delete(c *gin.Context) {
	ref, ok := personRef(c)
	if !ok {
		return
	}
	detached, err := h.identity.DeletePerson(c.Request.Context(), auth.Actor(c), ref)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Person deleted", "detached_faces": detached})
}

// Recognize matches an "image" upload against the registry.
func (h *PersonHandler) Recognize(c *gin.Context) {
	var form dto.RecognizeForm
	if err := c.ShouldBind(&form); err != nil {
		bindFailed(c, err, h.maxUpload)
		return
	}
	data, _, _, ok := readUpload(c, "image", h.maxUpload)
	if !ok {
		return
	}
	rec, err := h.identity.Recognize(c.Request.Context(), auth.Actor(c), identity.RecognizeInput{
		Image:    data,
		DeviceID: form.DeviceID,
		Location: form.Location,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
