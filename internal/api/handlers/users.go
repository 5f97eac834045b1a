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

type UserHandler struct {
	identity *identity.Service
	actors   *auth.Actors
}

func NewUserHandler(id *identity.Service, actors *auth.Actors) *UserHandler {
	return &UserHandler{identity: id, actors: actors}
}

func (h *UserHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, auth.Actor(c))
}

func (h *UserHandler) Create(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := h.identity.CreateUser(c.Request.Context(), auth.Actor(c), req.Username, models.Role(req.Role))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "User created", "user": u})
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.identity.ListUsers(c.Request.Context(), auth.Actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
}

func (h *UserHandler) ChangeRole(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := h.identity.ChangeRole(c.Request.Context(), auth.Actor(c), id, models.Role(req.Role))
	h.updated(c, id, u, err, "Role changed")
}

func (h *UserHandler) SetCapabilities(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.CapabilitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := h.identity.OverrideCapabilities(c.Request.Context(), auth.Actor(c), id, models.Capabilities{
		CanVerifyFaces:    req.CanVerifyFaces,
		CanManageUsers:    req.CanManageUsers,
		CanManageAllFaces: req.CanManageAllFaces,
		CanViewAllData:    req.CanViewAllData,
	})
	h.updated(c, id, u, err, "Capabilities updated")
}

func (h *UserHandler) updated(c *gin.Context, id uuid.UUID, u *models.User, err error, msg string) {
	if err != nil {
		fail(c, err)
		return
	}
	h.actors.Invalidate(id)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "user": u})
}
