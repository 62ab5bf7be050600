package world

import (
	"errors"

	"world-sync/core/keypath"
	"world-sync/core/logger"
	worldcore "world-sync/core/world"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for world sessions.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the world routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/world")
	group.Get("/", h.HandleListSessions)
	group.Get("/:session", h.HandleGetState)
	group.Get("/:session/pieces", h.HandleGetPieces)
	group.Post("/:session/delta", h.HandleDelta)
	group.Post("/:session/reset", h.HandleReset)
}

// HandleListSessions returns the sessions with persisted state.
// @Summary List Sessions
// @Description List the sessions that have persisted state. Requires a database.
// @Tags world
// @Produce json
// @Success 200 {object} map[string]interface{} "Sessions"
// @Failure 501 {object} map[string]string "Database not configured"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /world [get]
func (h *Handler) HandleListSessions(c *fiber.Ctx) error {
	sessions, err := h.service.Sessions(c.Context())
	if err != nil {
		return h.fail(c, err, "Listing sessions failed")
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// HandleGetState returns the flat state of a session.
// @Summary Get Session State
// @Description Get the flat key/value state of a session, optionally with its structured world.
// @Tags world
// @Produce json
// @Param session path string true "Session name"
// @Param structured query bool false "Include the unflattened world"
// @Success 200 {object} map[string]interface{} "Session state"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /world/{session} [get]
func (h *Handler) HandleGetState(c *fiber.Ctx) error {
	session := c.Params("session")

	flat, err := h.service.State(c.Context(), session)
	if err != nil {
		return h.fail(c, err, "Reading session failed")
	}

	body := fiber.Map{"session": session, "state": flat}
	if c.QueryBool("structured") {
		body["world"] = keypath.Unflatten(flat)
	}
	return c.JSON(body)
}

// HandleGetPieces returns the live pieces of a session.
// @Summary Get Session Pieces
// @Description Get the live pieces of a session keyed by piece id.
// @Tags world
// @Produce json
// @Param session path string true "Session name"
// @Success 200 {object} map[string]interface{} "Pieces"
// @Failure 400 {object} map[string]string "Malformed state"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /world/{session}/pieces [get]
func (h *Handler) HandleGetPieces(c *fiber.Ctx) error {
	session := c.Params("session")

	pieces, err := h.service.Pieces(c.Context(), session)
	if err != nil {
		return h.fail(c, err, "Reading pieces failed")
	}
	return c.JSON(fiber.Map{"session": session, "pieces": pieces})
}

// HandleDelta publishes a partial update to a session.
// @Summary Publish Delta
// @Description Merge a partial update into a session and delete the listed pieces.
// @Tags world
// @Accept json
// @Produce json
// @Param session path string true "Session name"
// @Param delta body Delta true "Partial update"
// @Success 200 {object} map[string]interface{} "Published change-set"
// @Failure 400 {object} map[string]string "Invalid delta"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /world/{session}/delta [post]
func (h *Handler) HandleDelta(c *fiber.Ctx) error {
	session := c.Params("session")

	var delta Delta
	if err := c.BodyParser(&delta); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	flat, err := h.service.ApplyDelta(c.Context(), session, delta)
	if err != nil {
		return h.fail(c, err, "Publishing delta failed")
	}
	return c.JSON(fiber.Map{"session": session, "published": flat})
}

// HandleReset replaces the world of a session.
// @Summary Reset Session
// @Description Replace every piece of a session. Peers drop their pieces and rebuild from the new world.
// @Tags world
// @Accept json
// @Produce json
// @Param session path string true "Session name"
// @Param body body map[string]interface{} true "Object with a pieces field keyed by piece id"
// @Success 200 {object} map[string]interface{} "Published change-set"
// @Failure 400 {object} map[string]string "Invalid pieces"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /world/{session}/reset [post]
func (h *Handler) HandleReset(c *fiber.Ctx) error {
	session := c.Params("session")

	var body struct {
		Pieces map[string]any `json:"pieces"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	flat, err := h.service.Reset(c.Context(), session, body.Pieces)
	if err != nil {
		return h.fail(c, err, "Resetting session failed")
	}
	return c.JSON(fiber.Map{"session": session, "published": flat})
}

func (h *Handler) fail(c *fiber.Ctx, err error, msg string) error {
	status := statusFor(err)
	l := logger.WithRayID(h.service.logger, c)
	if status >= fiber.StatusInternalServerError {
		l.Error(msg, zap.Error(err))
	} else {
		l.Info(msg, zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidSession),
		errors.Is(err, ErrEmptyDelta),
		errors.Is(err, worldcore.ErrMalformedUpdate),
		errors.Is(err, keypath.ErrUnsupportedValue),
		errors.Is(err, keypath.ErrInvalidKey),
		errors.Is(err, keypath.ErrTooDeep):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrNoDatabase):
		return fiber.StatusNotImplemented
	default:
		return fiber.StatusInternalServerError
	}
}
