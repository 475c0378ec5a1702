package http

import (
	"context"
	"encoding/json"
	"net/http"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/middleware"
	"huddle/pkg/errors"

	"github.com/gin-gonic/gin"
)

var _ ports.SessionHTTPHandler = (*SessionHandler)(nil)

type SessionHandler struct {
	controller    ports.SessionController
	shareDefaults domain.ShareOptions
}

func NewSessionHandler(controller ports.SessionController, shareDefaults domain.ShareOptions) *SessionHandler {
	return &SessionHandler{controller: controller, shareDefaults: shareDefaults}
}

func (h *SessionHandler) SetupRoutes(group *gin.RouterGroup) {
	api := group.Group("/session")
	{
		api.GET("", h.GetState)
		api.POST("/mount", h.Mount)
		api.POST("/leave", h.Leave)
		api.POST("/video/toggle", h.ToggleVideo)
		api.POST("/audio/toggle", h.ToggleAudio)

		api.POST("/share/start", h.StartShare)
		api.POST("/share/stop", h.StopShare)
		api.POST("/share/pause", h.PauseShare)
		api.POST("/share/resume", h.ResumeShare)

		api.POST("/recording/start", h.StartRecording)
		api.POST("/recording/stop", h.StopRecording)

		api.DELETE("/notices/:id", h.DismissNotice)
		api.GET("/devices", h.ListDevices)
	}
}

type MountRequest struct {
	WantVideo *bool `json:"want_video"`
	WantAudio *bool `json:"want_audio"`
}

type StartShareRequest struct {
	Kind string `json:"kind" binding:"required"`
	// Options are applied over the defaults; omitted fields keep them.
	Options json.RawMessage `json:"options"`
}

func (h *SessionHandler) state(c *gin.Context, status int) {
	c.JSON(status, gin.H{"state": h.controller.State()})
}

func (h *SessionHandler) GetState(c *gin.Context) {
	h.state(c, http.StatusOK)
}

// Mount acquires devices. Both kinds are requested unless the body says
// otherwise.
func (h *SessionHandler) Mount(c *gin.Context) {
	var req MountRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}

	capture := domain.CaptureRequest{WantVideo: true, WantAudio: true}
	if req.WantVideo != nil {
		capture.WantVideo = *req.WantVideo
	}
	if req.WantAudio != nil {
		capture.WantAudio = *req.WantAudio
	}

	if err := h.controller.Mount(c.Request.Context(), capture); err != nil {
		c.Error(err)
		return
	}
	h.state(c, http.StatusOK)
}

func (h *SessionHandler) Leave(c *gin.Context) {
	if err := h.controller.Close(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	h.state(c, http.StatusOK)
}

func (h *SessionHandler) ToggleVideo(c *gin.Context) {
	h.run(c, h.controller.ToggleVideo)
}

func (h *SessionHandler) ToggleAudio(c *gin.Context) {
	h.run(c, h.controller.ToggleAudio)
}

func (h *SessionHandler) StartShare(c *gin.Context) {
	var req StartShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("kind is required"))
		return
	}

	kind, err := domain.ParseSourceKind(req.Kind)
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	opts := h.shareDefaults
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			c.Error(errors.NewInvalidInputError("invalid share options"))
			return
		}
	}
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.controller.StartShare(c.Request.Context(), kind, opts); err != nil {
		c.Error(err)
		return
	}
	h.state(c, http.StatusOK)
}

func (h *SessionHandler) StopShare(c *gin.Context) {
	h.run(c, h.controller.StopShare)
}

func (h *SessionHandler) PauseShare(c *gin.Context) {
	h.run(c, h.controller.PauseShare)
}

func (h *SessionHandler) ResumeShare(c *gin.Context) {
	h.run(c, h.controller.ResumeShare)
}

func (h *SessionHandler) StartRecording(c *gin.Context) {
	h.run(c, h.controller.StartRecording)
}

// StopRecording answers with the artifact metadata. Stopping when nothing
// is recording is not an error and yields no artifact. A partial artifact
// that comes back with an error is listed in the error details.
func (h *SessionHandler) StopRecording(c *gin.Context) {
	artifact, err := h.controller.StopRecording(c.Request.Context())
	if err != nil {
		if artifact != nil {
			if appErr := middleware.ToAppError(err); appErr != nil {
				err = appErr.WithContext("artifact", artifact.ArtifactInfo)
			}
		}
		c.Error(err)
		return
	}

	resp := gin.H{"state": h.controller.State()}
	if artifact != nil {
		resp["artifact"] = artifact.ArtifactInfo
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) DismissNotice(c *gin.Context) {
	if !h.controller.DismissNotice(c.Param("id")) {
		c.Error(errors.NewNotFoundError("notice"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) ListDevices(c *gin.Context) {
	devices, err := h.controller.EnumerateDevices(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *SessionHandler) run(c *gin.Context, op func(ctx context.Context) error) {
	if err := op(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	h.state(c, http.StatusOK)
}
