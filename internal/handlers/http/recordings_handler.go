package http

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/errors"
	"huddle/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecordingsHandler serves the delivered artifacts of one room.
type RecordingsHandler struct {
	room    domain.RoomID
	catalog ports.ArtifactRepository
	store   ports.ArtifactStore
	logger  *zap.SugaredLogger
}

func NewRecordingsHandler(room domain.RoomID, catalog ports.ArtifactRepository, store ports.ArtifactStore, logger *zap.SugaredLogger) *RecordingsHandler {
	return &RecordingsHandler{
		room:    room,
		catalog: catalog,
		store:   store,
		logger:  logger,
	}
}

func (h *RecordingsHandler) SetupRoutes(group *gin.RouterGroup) {
	api := group.Group("/recordings")
	{
		api.GET("", h.List)
		api.GET("/:name", h.Download)
		api.DELETE("/:name", h.Delete)
	}
}

func (h *RecordingsHandler) List(c *gin.Context) {
	infos, err := h.catalog.ListByRoom(c.Request.Context(), h.room)
	if err != nil {
		c.Error(err)
		return
	}
	if infos == nil {
		infos = []*domain.ArtifactInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"recordings": infos})
}

// lookup returns the catalog entry for the name parameter. Artifacts of
// other rooms are reported as missing.
func (h *RecordingsHandler) lookup(c *gin.Context) (*domain.ArtifactInfo, bool) {
	name := c.Param("name")
	if err := validation.ValidateArtifactName(name); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return nil, false
	}

	info, err := h.catalog.GetByName(c.Request.Context(), name)
	if err != nil {
		c.Error(err)
		return nil, false
	}
	if info.RoomID != h.room {
		c.Error(domain.ErrArtifactNotFound)
		return nil, false
	}
	return info, true
}

func (h *RecordingsHandler) Download(c *gin.Context) {
	info, ok := h.lookup(c)
	if !ok {
		return
	}

	rc, err := h.store.Open(c.Request.Context(), info.Name)
	if err != nil {
		c.Error(err)
		return
	}
	defer rc.Close()

	mimeType := info.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size, mimeType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", info.Name),
	})
}

func (h *RecordingsHandler) Delete(c *gin.Context) {
	info, ok := h.lookup(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.catalog.Delete(ctx, info.Name); err != nil {
		c.Error(err)
		return
	}
	if err := h.store.Delete(ctx, info.Name); err != nil && !stderrors.Is(err, domain.ErrArtifactNotFound) {
		h.logger.Warnw("catalog entry removed but bytes remain", "name", info.Name, "error", err)
	}

	h.logger.Infow("recording deleted", "name", info.Name, "room_id", h.room)
	c.Status(http.StatusNoContent)
}
