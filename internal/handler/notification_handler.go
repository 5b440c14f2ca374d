package handler

import (
	"context"
	"net/http"
	"strconv"

	"classlink/internal/domain"
	"classlink/internal/services"
	"classlink/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type NotificationHandler struct {
	service *services.NotificationService
	topics  *services.TopicManager
}

func NewNotificationHandler(service *services.NotificationService, topics *services.TopicManager) *NotificationHandler {
	return &NotificationHandler{service: service, topics: topics}
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	views, total, err := h.service.ListNotifications(c.Request.Context(), userID, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"notifications": views,
		"total":         total,
	}))
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid notification id", "INVALID_REQUEST"))
		return
	}

	if err := h.service.MarkNotificationRead(c.Request.Context(), notificationID, userID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	if err := h.service.MarkAllNotificationsRead(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

// NotifyClassUpdate receives class announcement events from the rest of the
// platform and fans them out.
func (h *NotificationHandler) NotifyClassUpdate(c *gin.Context) {
	h.notifyClassEvent(c, h.service.NotifyClassUpdate)
}

// NotifyClassComment receives comment events from the rest of the platform.
func (h *NotificationHandler) NotifyClassComment(c *gin.Context) {
	h.notifyClassEvent(c, h.service.NotifyClassComment)
}

func (h *NotificationHandler) notifyClassEvent(c *gin.Context, notify func(ctx context.Context, input services.ClassEventInput) error) {
	actorID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	var req httpdto.ClassEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	err := notify(c.Request.Context(), services.ClassEventInput{
		ClassID:   req.ClassID,
		ActorID:   actorID,
		Title:     req.Title,
		Body:      req.Body,
		Priority:  domain.NotificationPriority(req.Priority),
		ActionURL: req.ActionURL,
		Data:      req.Data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse[any](nil))
}

// MembershipEvent applies one roster change to the class topics.
func (h *NotificationHandler) MembershipEvent(c *gin.Context) {
	var req httpdto.MembershipEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	ev := services.MembershipEvent{
		Kind:    req.Kind,
		ClassID: req.ClassID,
		UserID:  req.UserID,
	}
	if req.StudentID != nil {
		ev.StudentID = *req.StudentID
	}

	if err := h.topics.HandleMembershipEvent(c.Request.Context(), ev); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}
