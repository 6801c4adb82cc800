package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"ecotrack/leaderboard"
	"ecotrack/middleware"
	"ecotrack/models"
	"ecotrack/service"
	"ecotrack/storage"
	ws "ecotrack/websocket"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

// Handlers wires HTTP requests into the core service.
type Handlers struct {
	svc    *service.Service
	board  *leaderboard.Aggregator
	images *storage.Client
	hub    *ws.Hub
}

// NewHandlers creates the handler set. images and hub may be nil.
func NewHandlers(svc *service.Service, board *leaderboard.Aggregator, images *storage.Client, hub *ws.Hub) *Handlers {
	return &Handlers{svc: svc, board: board, images: images, hub: hub}
}

// httpStatus maps the core error taxonomy to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrNoAgentAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

// HealthCheck returns the service health plus the push feed's state.
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":  "healthy",
		"service": "ecotrack",
	}
	if h.hub != nil {
		clients, lastBroadcast := h.hub.GetStats()
		resp["ws_clients"] = clients
		if !lastBroadcast.IsZero() {
			resp["last_broadcast_at"] = lastBroadcast
		}
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitReport accepts a new citizen report.
func (h *Handlers) SubmitReport(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	args := &models.SubmitReportRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /reports call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Citizens submit for themselves; admins may submit on behalf.
	// Agents have no business creating reports.
	switch actor.Role {
	case models.RoleCitizen:
		if args.OwnerID != actor.ID {
			c.JSON(http.StatusForbidden, gin.H{"error": "owner_id must match the authenticated citizen"})
			return
		}
	case models.RoleAdmin:
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "only citizens and admins may submit reports"})
		return
	}

	resp, err := h.svc.SubmitReport(c.Request.Context(), args)
	if err != nil {
		log.Errorf("Error submitting report: %v", err)
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetReport returns one report, with its image reference resolved to a
// URL when the storage collaborator is reachable.
func (h *Handlers) GetReport(c *gin.Context) {
	r, err := h.svc.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var imageURL string
	if h.images != nil && r.ImageRef != "" {
		resolved, err := h.images.Resolve(c.Request.Context(), r.ImageRef)
		if err != nil {
			// Storage outage degrades the response, never fails it.
			log.Warnf("Image resolve failed for report %s: %v", r.ID, err)
		} else {
			imageURL = resolved.URL
		}
	}

	c.JSON(http.StatusOK, gin.H{"report": r, "image_url": imageURL})
}

// ListReports returns a citizen's reports.
func (h *Handlers) ListReports(c *gin.Context) {
	actor, _ := middleware.GetActor(c)
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		ownerID = actor.ID
	}
	if actor.Role == models.RoleCitizen && ownerID != actor.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "citizens may only list their own reports"})
		return
	}

	reports, err := h.svc.ListReportsByOwner(c.Request.Context(), ownerID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// RequestTransition moves a report along one status edge.
func (h *Handlers) RequestTransition(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	args := &models.TransitionRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /transition call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.svc.RequestTransition(c.Request.Context(), c.Param("id"), args.TargetStatus, actor)
	if err != nil {
		log.Errorf("Transition of report %s to %s failed: %v", c.Param("id"), args.TargetStatus, err)
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DispatchSweep retries task assignment for a queued actionable report.
func (h *Handlers) DispatchSweep(c *gin.Context) {
	if err := h.svc.DispatchSweep(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// SweepRewards re-drives reward grants whose profile credit was lost
// to a downstream outage.
func (h *Handlers) SweepRewards(c *gin.Context) {
	swept, err := h.svc.RewardSweep(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": swept})
}

// UpdateTask is an agent's self-service task progress update.
func (h *Handlers) UpdateTask(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	args := &models.TaskUpdateRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /tasks call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.svc.AgentUpdateTask(c.Request.Context(), c.Param("id"), args.TargetStatus, actor.ID)
	if err != nil {
		log.Errorf("Task %s update to %s failed: %v", c.Param("id"), args.TargetStatus, err)
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListTasks returns the authenticated agent's task queue.
func (h *Handlers) ListTasks(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	tasks, err := h.svc.ListTasksByAgent(c.Request.Context(), actor.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetLeaderboard serves the cached ranked snapshot.
func (h *Handlers) GetLeaderboard(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	limit := 0
	if s, ok := c.GetQuery("limit"); ok {
		var err error
		if limit, err = strconv.Atoi(s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad limit parameter"})
			return
		}
	}

	c.JSON(http.StatusOK, h.board.Get(limit, actor.ID))
}

// RefreshLeaderboard forces an immediate snapshot recompute.
func (h *Handlers) RefreshLeaderboard(c *gin.Context) {
	if err := h.board.Refresh(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// UpsertProfile creates or updates citizen metadata.
func (h *Handlers) UpsertProfile(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	args := &models.UpdateProfileRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /profiles call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if actor.Role == models.RoleCitizen && args.ID != actor.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "citizens may only update their own profile"})
		return
	}

	if err := h.svc.UpsertProfile(c.Request.Context(), args); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// GetProfile returns one citizen profile.
func (h *Handlers) GetProfile(c *gin.Context) {
	p, err := h.svc.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteProfile removes a citizen and their reports. Admin only.
func (h *Handlers) DeleteProfile(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	if err := h.svc.DeleteProfile(c.Request.Context(), c.Param("id"), actor); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// RegisterAgent enrolls a field worker. Admin only.
func (h *Handlers) RegisterAgent(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	args := &models.RegisterAgentRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /agents call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.svc.RegisterAgent(c.Request.Context(), args, actor)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// SetAgentActive flips an agent's roster flag. Admin only.
func (h *Handlers) SetAgentActive(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	args := &struct {
		Active bool `json:"active"`
	}{}
	if err := c.BindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.SetAgentActive(c.Request.Context(), c.Param("id"), args.Active, actor); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// WebSocket upgrader
var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		return true
	},
}

// ListenLeaderboard handles WebSocket connections for leaderboard updates
func (h *Handlers) ListenLeaderboard(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	log.Info("WebSocket connection established for leaderboard updates")
}
