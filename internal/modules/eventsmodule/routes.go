package eventsmodule

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/modelbay/modelbay/internal/api"
	"github.com/modelbay/modelbay/internal/apiroutes"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RegisterRoutes registers the event streaming routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	eventsGroup := router.Group("/api/events")
	{
		eventsGroup.GET("/stream", m.streamSSE)
		apiroutes.Register(eventsGroup.BasePath()+"/stream", "GET", "Stream events over SSE, filterable by job and type.")

		eventsGroup.GET("/ws", m.streamWebSocket)
		apiroutes.Register(eventsGroup.BasePath()+"/ws", "GET", "Stream events over WebSocket.")

		eventsGroup.GET("/recent", m.recentEvents)
		apiroutes.Register(eventsGroup.BasePath()+"/recent", "GET", "List recently published events.")

		eventsGroup.GET("/stats", m.busStats)
		apiroutes.Register(eventsGroup.BasePath()+"/stats", "GET", "Event bus delivery statistics.")
	}
}

// filterFromQuery builds an event filter from ?job= and ?types=
func filterFromQuery(c *gin.Context) events.EventFilter {
	var filter events.EventFilter
	if raw := c.Query("job"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			jobID := uint(id)
			filter.JobID = &jobID
		}
	}
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(t); trimmed != "" {
				filter.Types = append(filter.Types, events.EventType(trimmed))
			}
		}
	}
	return filter
}

// streamSSE pushes matching events as server-sent events. Slow clients
// drop events rather than block the bus.
func (m *Module) streamSSE(c *gin.Context) {
	eventChan := make(chan events.Event, 64)
	unsubscribe, err := m.bus.Subscribe(filterFromQuery(c), func(event events.Event) error {
		select {
		case eventChan <- event:
		default:
		}
		return nil
	})
	if err != nil {
		api.RespondWithInternalError(c, "could not subscribe to event stream", err)
		return
	}
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.SSEvent("connected", gin.H{"time": time.Now()})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case event := <-eventChan:
			c.SSEvent(string(event.Type), event)
			return true
		case <-time.After(30 * time.Second):
			c.SSEvent("heartbeat", gin.H{"time": time.Now()})
			return true
		case <-clientGone:
			return false
		}
	})
}

// streamWebSocket fans matching events out over a websocket
func (m *Module) streamWebSocket(c *gin.Context) {
	filter := filterFromQuery(c)
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		logger.Debug("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	eventChan := make(chan events.Event, 64)
	unsubscribe, err := m.bus.Subscribe(filter, func(event events.Event) error {
		select {
		case eventChan <- event:
		default:
		}
		return nil
	})
	if err != nil {
		logger.Error("WebSocket client could not subscribe: %v", err)
		return
	}
	defer unsubscribe()

	// Reader only detects the client going away
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event := <-eventChan:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}

// recentEvents returns the bus's recent event window
func (m *Module) recentEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	recent := m.bus.GetRecentEvents(limit)
	c.JSON(http.StatusOK, gin.H{"events": recent, "count": len(recent)})
}

// busStats returns bus activity counters
func (m *Module) busStats(c *gin.Context) {
	c.JSON(http.StatusOK, m.bus.GetStats())
}
