package handler

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemInfo is what the health endpoint reports about the running service
type SystemInfo struct {
	Name             string
	Version          string
	StoreDriver      string
	RemoteConfigured bool
}

// SystemHandler handles the health endpoint
type SystemHandler struct {
	BaseHandler
	info      SystemInfo
	sessions  func() int
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler. sessions reports the number
// of cart sessions in memory and may be nil.
func NewSystemHandler(info SystemInfo, sessions func() int) *SystemHandler {
	return &SystemHandler{
		info:      info,
		sessions:  sessions,
		startTime: time.Now(),
	}
}

// HealthResponse represents the health response
type HealthResponse struct {
	Status         string `json:"status"`
	Name           string `json:"name"`
	Version        string `json:"version"`
	GoVersion      string `json:"go_version"`
	Uptime         string `json:"uptime"`
	StoreDriver    string `json:"store_driver"`
	Mode           string `json:"mode"`
	ActiveSessions int    `json:"active_sessions"`
}

// Health reports liveness and whether the service mirrors to the commerce
// backend ("remote") or runs on the local store only ("local").
func (h *SystemHandler) Health(c *gin.Context) {
	mode := "local"
	if h.info.RemoteConfigured {
		mode = "remote"
	}
	resp := HealthResponse{
		Status:      "ok",
		Name:        h.info.Name,
		Version:     h.info.Version,
		GoVersion:   runtime.Version(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		StoreDriver: h.info.StoreDriver,
		Mode:        mode,
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions()
	}
	h.Success(c, resp)
}
