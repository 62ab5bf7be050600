package snapshot

import (
	"errors"

	"world-sync/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for snapshots.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the snapshot routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/snapshot")
	group.Post("/:session", h.HandleExport)
	group.Get("/:session/latest", h.HandleLatest)
	group.Post("/:session/restore", h.HandleRestore)
}

// HandleExport stores the current state of a session.
// @Summary Export Snapshot
// @Description Store the current state of a session as a snapshot object.
// @Tags snapshot
// @Produce json
// @Param session path string true "Session name"
// @Success 201 {object} map[string]string "Snapshot object"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /snapshot/{session} [post]
func (h *Handler) HandleExport(c *fiber.Ctx) error {
	session := c.Params("session")
	l := logger.WithRayID(h.service.logger, c)

	object, err := h.service.Export(c.Context(), session)
	if err != nil {
		l.Error("Snapshot export failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": session, "object": object})
}

// HandleLatest returns the newest snapshot of a session.
// @Summary Latest Snapshot
// @Description Get the name of the newest snapshot of a session.
// @Tags snapshot
// @Produce json
// @Param session path string true "Session name"
// @Success 200 {object} map[string]string "Snapshot object"
// @Failure 404 {object} map[string]string "No snapshot"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /snapshot/{session}/latest [get]
func (h *Handler) HandleLatest(c *fiber.Ctx) error {
	session := c.Params("session")

	object, err := h.service.Latest(c.Context(), session)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"session": session, "object": object})
}

// HandleRestore publishes a snapshot as a reset of the session.
// The object query parameter selects the snapshot; the latest is used by default.
// @Summary Restore Snapshot
// @Description Publish a snapshot as a reset of the session.
// @Tags snapshot
// @Produce json
// @Param session path string true "Session name"
// @Param object query string false "Snapshot object, defaults to the latest"
// @Success 200 {object} map[string]interface{} "Restored snapshot"
// @Failure 400 {object} map[string]string "Object outside the session's snapshots"
// @Failure 404 {object} map[string]string "No snapshot"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /snapshot/{session}/restore [post]
func (h *Handler) HandleRestore(c *fiber.Ctx) error {
	session := c.Params("session")

	object, flat, err := h.service.Import(c.Context(), session, c.Query("object"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"session": session, "object": object, "keys": len(flat)})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, ErrInvalidObject):
		status = fiber.StatusBadRequest
	default:
		logger.WithRayID(h.service.logger, c).Error("Snapshot request failed", zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
