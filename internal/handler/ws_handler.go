package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/aabine/flow-realtime/internal/auth"
	"github.com/aabine/flow-realtime/internal/dispatch"
	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
	"github.com/aabine/flow-realtime/internal/hub"
	"github.com/aabine/flow-realtime/internal/zones"
	"github.com/aabine/flow-realtime/pkg/log"
)

// WSHandler upgrades and drives client websocket connections.
type WSHandler struct {
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	verifier   *auth.Verifier
	upgrader   websocket.Upgrader
}

// NewWSHandler creates the websocket handler.
func NewWSHandler(h *hub.Hub, d *dispatch.Dispatcher, v *auth.Verifier) *WSHandler {
	return &WSHandler{
		hub:        h,
		dispatcher: d,
		verifier:   v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin enforcement is the gateway's job
			},
		},
	}
}

// HandleWebSocket handles GET /ws/{user_id}?token=...
// The path user id must match the authenticated identity.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(identity.UserID, identity.Role, h.hub, conn)
	h.hub.Connect(client)

	client.SendJSON(domain.NewEnvelope(domain.MsgTypeConnectionEstablished, map[string]any{
		"user_id":           identity.UserID,
		"role":              string(identity.Role),
		"subscribed_events": domain.DefaultTopics(identity.Role),
	}))

	go client.WritePump()
	go client.ReadPump(h.handleFrame)
}

// HandleEmergencyChannel handles GET /ws/emergency/{area_id}?token=...
// The connection joins the area's broadcast group on top of its normal
// registration.
func (h *WSHandler) HandleEmergencyChannel(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	areaID := mux.Vars(r)["area_id"]
	if areaID == "" {
		http.Error(w, "area_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(identity.UserID, identity.Role, h.hub, conn)
	h.hub.Connect(client)
	h.hub.JoinArea(identity.UserID, areaID)

	client.SendJSON(domain.NewEnvelope(domain.MsgTypeEmergencyChannelJoined, map[string]any{
		"user_id": identity.UserID,
		"area":    areaID,
	}))

	go client.WritePump()
	go client.ReadPump(func(c *hub.Client, message []byte) {
		h.handleEmergencyFrame(c, areaID, message)
	})
}

// authenticate resolves the request's token against the path user id
// when one is present.
func (h *WSHandler) authenticate(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	if pathID := mux.Vars(r)["user_id"]; pathID != "" && pathID != identity.UserID {
		http.Error(w, "token does not match user", http.StatusForbidden)
		return auth.Identity{}, false
	}
	return identity, true
}

func (h *WSHandler) handleFrame(c *hub.Client, message []byte) {
	var base domain.BaseFrame
	if err := json.Unmarshal(message, &base); err != nil {
		c.SendJSON(domain.NewErrorFrame("invalid message format"))
		return
	}

	switch base.Type {
	case domain.MsgTypePing:
		c.SendJSON(domain.NewEnvelope(domain.MsgTypePong, nil))

	case domain.MsgTypeSubscribe:
		var frame domain.SubscribeFrame
		if err := json.Unmarshal(message, &frame); err != nil || len(frame.Events) == 0 {
			c.SendJSON(domain.NewErrorFrame("events is required"))
			return
		}
		h.hub.Subscribe(c.ID, frame.Events)
		c.SendJSON(domain.NewEnvelope(domain.MsgTypeSubscriptionConfirmed, map[string]any{
			"events": frame.Events,
		}))

	case domain.MsgTypeUnsubscribe:
		var frame domain.SubscribeFrame
		if err := json.Unmarshal(message, &frame); err != nil || len(frame.Events) == 0 {
			c.SendJSON(domain.NewErrorFrame("events is required"))
			return
		}
		h.hub.Unsubscribe(c.ID, frame.Events)
		c.SendJSON(domain.NewEnvelope(domain.MsgTypeUnsubscriptionConfirmed, map[string]any{
			"events": frame.Events,
		}))

	case domain.MsgTypeLocationUpdate:
		var frame domain.LocationUpdateFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.SendJSON(domain.NewErrorFrame("invalid location update"))
			return
		}
		if !h.hub.UpdateLocation(c.ID, frame.Latitude, frame.Longitude) {
			c.SendJSON(domain.NewErrorFrame("invalid coordinates"))
			return
		}
		c.SendJSON(domain.NewEnvelope(domain.MsgTypeLocationUpdated, map[string]any{
			"latitude":  frame.Latitude,
			"longitude": frame.Longitude,
		}))

	default:
		c.SendJSON(domain.NewErrorFrame("unknown message type: " + base.Type))
	}
}

// handleEmergencyFrame routes frames on an emergency area channel.
// Hospitals and admins may raise alerts into the area; everything else
// falls through to the normal frame router.
func (h *WSHandler) handleEmergencyFrame(c *hub.Client, areaID string, message []byte) {
	var base domain.BaseFrame
	if err := json.Unmarshal(message, &base); err != nil {
		c.SendJSON(domain.NewErrorFrame("invalid message format"))
		return
	}

	if base.Type != domain.MsgTypeEmergencyAlert {
		h.handleFrame(c, message)
		return
	}

	if c.Role != domain.RoleHospital && c.Role != domain.RoleAdmin {
		c.SendJSON(domain.NewErrorFrame("role cannot raise emergency alerts"))
		return
	}

	var frame domain.EmergencyAlertFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.SendJSON(domain.NewErrorFrame("invalid emergency alert"))
		return
	}

	h.hub.BroadcastToArea(areaID, domain.NewEnvelope(domain.MsgTypeEmergencyAlert, map[string]any{
		"area":     areaID,
		"title":    frame.Title,
		"message":  frame.Message,
		"severity": frame.Severity,
		"sender":   c.ID,
	}))

	// A located alert also fans out geographically.
	if lat, latOK := frame.Location["latitude"].(float64); latOK {
		if lon, lonOK := frame.Location["longitude"].(float64); lonOK {
			priority := zones.Priority(frame.Severity)
			if !priority.Valid() {
				priority = zones.PriorityHigh
			}
			h.dispatcher.SendLocationAlert(context.Background(), "emergency_order", priority,
				geo.Point{Latitude: lat, Longitude: lon}, 0, frame.Message,
				map[string]any{"area": areaID, "sender": c.ID})
		}
	}
}
