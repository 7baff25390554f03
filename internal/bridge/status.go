package bridge

import (
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/danmuck/companion/internal/client"
	"github.com/danmuck/companion/internal/feature"
	"github.com/danmuck/companion/internal/observability"
	"github.com/danmuck/companion/internal/protocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusServer exposes a runtime's state over HTTP.
type StatusServer struct {
	Name    string
	Runtime *client.Runtime
	Started time.Time

	router *gin.Engine
}

type FeatureStatus struct {
	ID        string `json:"id"`
	Toggle    bool   `json:"toggle"`
	Supported bool   `json:"supported"`
	Enabled   bool   `json:"enabled"`
}

type OverlayStatus struct {
	Slot        int32  `json:"slot"`
	OverlayType int32  `json:"overlay_type"`
	DisplayText string `json:"display_text"`
}

type Status struct {
	HandshakeEnabled bool   `json:"handshake_enabled"`
	HelloSent        bool   `json:"hello_sent"`
	ServerID         string `json:"server_id,omitempty"`
	FeatureFlags     uint32 `json:"feature_flags"`
	ClientVersion    string `json:"client_version"`
	// PayloadCodecFallback is true when the companion channel bypasses the
	// host codec.
	PayloadCodecFallback bool               `json:"payload_codec_fallback"`
	Features             []FeatureStatus    `json:"features"`
	Overlays             []OverlayStatus    `json:"overlays"`
	Markers              map[string][]int32 `json:"markers"`
}

var markerNames = map[int32]string{
	protocol.MarkerTypeSameGang:                  "same_gang",
	protocol.MarkerTypePeacefulMiningPassThrough: "peaceful_mining_pass_through",
}

func NewStatusServer(name string, rt *client.Runtime, logger zerolog.Logger, corsOrigins []string) *StatusServer {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &StatusServer{Name: name, Runtime: rt, Started: time.Now(), router: r}
	s.registerRoutes()
	return s
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.Name,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.Runtime.HandshakeEnabled()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "service": s.Name})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Snapshot())
	})

	s.router.PUT("/features/:id", func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := feature.Find(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown feature: " + id})
			return
		}
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Enabled == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": `body must be {"enabled": true|false}`})
			return
		}
		if err := s.Runtime.SetFeatureEnabled(id, *body.Enabled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.featureStatus(id))
	})
}

// Snapshot collects the runtime state served at /status.
func (s *StatusServer) Snapshot() Status {
	rt := s.Runtime
	st := Status{
		HandshakeEnabled:     rt.HandshakeEnabled(),
		HelloSent:            rt.HelloSent(),
		ServerID:             rt.ServerID(),
		FeatureFlags:         rt.ServerFeatureFlags(),
		ClientVersion:        rt.ClientVersion(),
		PayloadCodecFallback: rt.ShouldOverrideCodec(protocol.ChannelID),
		Overlays:             []OverlayStatus{},
		Markers:              make(map[string][]int32, len(markerNames)),
	}
	for _, def := range feature.All() {
		st.Features = append(st.Features, s.featureStatus(def.ID))
	}
	overlays := rt.InventoryItemOverlays()
	for _, slot := range slices.Sorted(maps.Keys(overlays)) {
		e := overlays[slot]
		st.Overlays = append(st.Overlays, OverlayStatus{Slot: slot, OverlayType: e.OverlayType, DisplayText: e.DisplayText})
	}
	for markerType, name := range markerNames {
		ids := rt.MarkerIDs(markerType)
		if ids == nil {
			ids = []int32{}
		}
		st.Markers[name] = ids
	}
	return st
}

func (s *StatusServer) featureStatus(id string) FeatureStatus {
	return FeatureStatus{
		ID:        id,
		Toggle:    s.Runtime.FeatureToggle(id),
		Supported: s.Runtime.IsFeatureSupportedByServer(id),
		Enabled:   s.Runtime.IsFeatureEnabled(id),
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:" + strconv.Itoa(DefaultStatusPort)}
	}
	return origins
}

// DefaultStatusPort is companiond's default HTTP port.
const DefaultStatusPort = 7790
