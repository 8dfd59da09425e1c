package livehttp

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"hlfleet/internal/logger"
	"hlfleet/internal/store"

	"github.com/gin-gonic/gin"
)

// Router exposes the fleet status and admin endpoints under /api.
type Router struct {
	identities map[string]Identity
	order      []string
	controls   Controls
	events     EventLister
}

func NewRouter(identities []Identity, controls Controls, events EventLister) *Router {
	r := &Router{identities: make(map[string]Identity, len(identities)), controls: controls, events: events}
	for _, id := range identities {
		if id == nil {
			continue
		}
		r.identities[id.BotID()] = id
		r.order = append(r.order, id.BotID())
	}
	sort.Strings(r.order)
	return r
}

// Register mounts the routes on group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/identities", r.handleListIdentities)
	group.GET("/identities/:id", r.handleIdentity)
	group.GET("/identities/:id/events", r.handleEvents)
	if r.controls != nil {
		group.POST("/identities/:id/pause", r.handleCommand(store.CommandPause))
		group.POST("/identities/:id/resume", r.handleCommand(store.CommandResume))
	}
}

func (r *Router) handleListIdentities(c *gin.Context) {
	out := make([]IdentitySummary, 0, len(r.order))
	for _, bot := range r.order {
		summary, err := r.summarize(c, r.identities[bot])
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, summary)
	}
	c.JSON(http.StatusOK, gin.H{"identities": out})
}

func (r *Router) handleIdentity(c *gin.Context) {
	id, ok := r.lookup(c)
	if !ok {
		return
	}
	summary, err := r.summarize(c, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (r *Router) handleEvents(c *gin.Context) {
	id, ok := r.lookup(c)
	if !ok {
		return
	}
	if r.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log not available"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := r.events.ListEvents(c.Request.Context(), id.BotID(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, EventView{
			SignalID:  ev.SignalID,
			Symbol:    ev.Symbol,
			Kind:      ev.Kind,
			Details:   ev.Details,
			CreatedAt: ev.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": id.BotID(), "events": views})
}

func (r *Router) handleCommand(cmd store.AdminCommand) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := r.lookup(c)
		if !ok {
			return
		}
		if err := r.controls.InsertAdminCommand(c.Request.Context(), id.BotID(), cmd); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		logger.Infof("[api] %s %s ip=%s", cmd, id.BotID(), c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"bot_id": id.BotID(), "command": cmd})
	}
}

func (r *Router) lookup(c *gin.Context) (Identity, bool) {
	id, ok := r.identities[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return nil, false
	}
	return id, true
}

func (r *Router) summarize(c *gin.Context, id Identity) (IdentitySummary, error) {
	ctx := c.Request.Context()
	counts, err := id.StatusCounts(ctx)
	if err != nil {
		return IdentitySummary{}, err
	}
	summary := IdentitySummary{
		BotID:   id.BotID(),
		Loops:   id.Heartbeats(),
		Signals: counts,
	}
	if r.controls != nil {
		ctl, err := r.controls.LatestAdminCommand(ctx, id.BotID())
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return IdentitySummary{}, err
		default:
			summary.Command = string(ctl.Command)
			summary.Paused = ctl.Command == store.CommandPause
		}
	}
	return summary, nil
}
