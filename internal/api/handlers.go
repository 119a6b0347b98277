// handlers.go - Batch pipeline API handlers
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ecowatch/backend/internal/batch"
	"github.com/ecowatch/backend/internal/pipeline"
)

// Handler serves the batch submission API.
type Handler struct {
	session   *batch.Session
	runner    *pipeline.Runner
	collector *batch.Collector
}

// NewHandler creates the API handler over the pipeline collaborators.
func NewHandler(session *batch.Session, runner *pipeline.Runner, collector *batch.Collector) *Handler {
	return &Handler{
		session:   session,
		runner:    runner,
		collector: collector,
	}
}

// RegisterRoutes registers all API routes with the Echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo, ws *WebSocketHandler) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", h.HandleHealth)
	apiGroup.GET("/ws/progress", ws.HandleWebSocket)

	apiGroup.POST("/batch/items", h.HandleRegisterItems)
	apiGroup.DELETE("/batch/items/:id", h.HandleRemoveItem)
	apiGroup.DELETE("/batch", h.HandleClearBatch)

	apiGroup.POST("/batch/start", h.HandleStartBatch)
	apiGroup.POST("/batch/cancel", h.HandleCancelBatch)
	apiGroup.GET("/batch/status", h.HandleBatchStatus)

	apiGroup.GET("/batch/export", h.HandleExport)
	apiGroup.GET("/batch/export/msgpack", h.HandleExportMsgpack)
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

// HandleRegisterItems accepts a multipart form with one or more "files"
// parts and registers them into the batch. Files of unsupported types and
// files beyond the remaining capacity are silently dropped.
func (h *Handler) HandleRegisterItems(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}

	files := form.File["files"]
	if len(files) == 0 {
		return NewValidationError("files")
	}

	candidates := make([]batch.RegisterFile, 0, len(files))
	closers := make([]func() error, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return NewInternalError("failed to open uploaded file", err)
		}
		closers = append(closers, src.Close)
		candidates = append(candidates, batch.RegisterFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     src,
		})
	}
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()

	registered, err := h.session.Register(candidates)
	if err != nil {
		if errors.Is(err, batch.ErrProcessing) {
			return NewConflictError("batch is currently processing")
		}
		return NewInternalError("failed to register files", err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"registered": registered,
		"accepted":   len(registered),
		"submitted":  len(files),
	})
}

// HandleRemoveItem deletes a single item while the batch is idle.
func (h *Handler) HandleRemoveItem(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	switch err := h.session.Remove(id); {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, batch.ErrProcessing):
		return NewConflictError("cannot remove items while the batch is processing")
	case errors.Is(err, batch.ErrItemNotFound):
		return NewNotFoundError("item", id)
	default:
		return NewInternalError("failed to remove item", err)
	}
}

// HandleClearBatch discards all items, their payloads and collected results.
func (h *Handler) HandleClearBatch(c echo.Context) error {
	if err := h.session.Clear(); err != nil {
		if errors.Is(err, batch.ErrProcessing) {
			return NewConflictError("cannot clear the batch while it is processing")
		}
		return NewInternalError("failed to clear batch", err)
	}
	h.collector.Reset()
	return c.NoContent(http.StatusNoContent)
}

type startBatchRequest struct {
	LocationHint     string `json:"locationHint"`
	EnableEnrichment bool   `json:"enableEnrichment"`
}

// HandleStartBatch begins draining the batch sequentially.
func (h *Handler) HandleStartBatch(c echo.Context) error {
	var req startBatchRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	err := h.runner.Start(context.Background(), pipeline.Options{
		LocationHint:     req.LocationHint,
		EnableEnrichment: req.EnableEnrichment,
	})
	if err != nil {
		if errors.Is(err, batch.ErrProcessing) {
			return NewConflictError("batch is already processing")
		}
		return NewConflictError(err.Error())
	}

	return c.JSON(http.StatusAccepted, h.session.Snapshot())
}

// HandleCancelBatch aborts the active run; remaining items stay pending.
func (h *Handler) HandleCancelBatch(c echo.Context) error {
	h.runner.Cancel()
	return c.NoContent(http.StatusAccepted)
}

// HandleBatchStatus returns per-item progress and the derived global
// completion percentage.
func (h *Handler) HandleBatchStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Snapshot())
}

// HandleExport serializes the collected terminal outcomes as a JSON
// download, timestamped at export time.
func (h *Handler) HandleExport(c echo.Context) error {
	now := time.Now().UTC()
	doc := h.collector.Export(now)

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, batch.ExportFileName(now)))
	return c.JSON(http.StatusOK, doc)
}

// HandleExportMsgpack serves the export snapshot in msgpack for clients
// that prefer the compact binary form.
func (h *Handler) HandleExportMsgpack(c echo.Context) error {
	doc := h.collector.Export(time.Now().UTC())

	data, err := msgpack.Marshal(doc)
	if err != nil {
		return NewInternalError("failed to encode export", err)
	}
	return c.Blob(http.StatusOK, "application/x-msgpack", data)
}
