package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aabine/flow-realtime/internal/broker"
	"github.com/aabine/flow-realtime/internal/dispatch"
	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
	"github.com/aabine/flow-realtime/internal/hub"
	"github.com/aabine/flow-realtime/internal/metrics"
	"github.com/aabine/flow-realtime/internal/zones"
)

// BrokerStatus exposes the broker client's health to the HTTP surface.
// *broker.Client satisfies it.
type BrokerStatus interface {
	State() broker.State
	PendingCount() int
}

// HTTPHandler serves the notification trigger API and the operational
// endpoints.
type HTTPHandler struct {
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	zones      *zones.Manager
	broker     BrokerStatus
}

// NewHTTPHandler creates the HTTP handler. brokerStatus may be nil
// when the exchange is not wired.
func NewHTTPHandler(h *hub.Hub, d *dispatch.Dispatcher, zm *zones.Manager, brokerStatus BrokerStatus) *HTTPHandler {
	return &HTTPHandler{hub: h, dispatcher: d, zones: zm, broker: brokerStatus}
}

// Register mounts every route on the router.
func (h *HTTPHandler) Register(r *mux.Router) {
	r.HandleFunc("/broadcast/inventory-update", h.BroadcastInventoryUpdate).Methods(http.MethodPost)
	r.HandleFunc("/broadcast/order-status", h.BroadcastOrderStatus).Methods(http.MethodPost)
	r.HandleFunc("/broadcast/delivery-update", h.BroadcastDeliveryUpdate).Methods(http.MethodPost)
	r.HandleFunc("/broadcast/emergency-alert", h.BroadcastEmergencyAlert).Methods(http.MethodPost)
	r.HandleFunc("/broadcast/system", h.BroadcastSystem).Methods(http.MethodPost)

	r.HandleFunc("/alerts/location", h.SendLocationAlert).Methods(http.MethodPost)
	r.HandleFunc("/alerts/zone/{zone_id}", h.SendZoneAlert).Methods(http.MethodPost)
	r.HandleFunc("/alerts/proximity/{user_id}", h.SendProximityAlert).Methods(http.MethodPost)
	r.HandleFunc("/alerts/{alert_id}/escalate", h.EscalateAlert).Methods(http.MethodPost)
	r.HandleFunc("/alerts/{alert_id}", h.ResolveAlert).Methods(http.MethodDelete)
	r.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)

	r.HandleFunc("/connections", h.GetConnections).Methods(http.MethodGet)
	r.HandleFunc("/zones", h.GetZones).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

type broadcastRequest struct {
	Topic   string         `json:"topic,omitempty"`
	Role    string         `json:"role,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

type broadcastResponse struct {
	Delivered int `json:"delivered"`
}

// BroadcastInventoryUpdate handles POST /broadcast/inventory-update
func (h *HTTPHandler) BroadcastInventoryUpdate(w http.ResponseWriter, r *http.Request) {
	h.topicBroadcast(w, r, domain.TopicInventoryUpdate)
}

// BroadcastOrderStatus handles POST /broadcast/order-status
func (h *HTTPHandler) BroadcastOrderStatus(w http.ResponseWriter, r *http.Request) {
	h.topicBroadcast(w, r, domain.TopicOrderStatusUpdate)
}

// BroadcastDeliveryUpdate handles POST /broadcast/delivery-update
func (h *HTTPHandler) BroadcastDeliveryUpdate(w http.ResponseWriter, r *http.Request) {
	h.topicBroadcast(w, r, domain.TopicDeliveryUpdate)
}

// topicBroadcast sends the payload to one user when user_id is set,
// otherwise to the topic's subscribers.
func (h *HTTPHandler) topicBroadcast(w http.ResponseWriter, r *http.Request, topic string) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	env := domain.NewEnvelope(topic, req.Payload)

	delivered := 0
	if req.UserID != "" {
		if h.hub.Send(req.UserID, env) {
			delivered = 1
		}
	} else {
		delivered = h.hub.BroadcastToTopic(topic, env)
	}
	writeJSON(w, http.StatusOK, broadcastResponse{Delivered: delivered})
}

// BroadcastEmergencyAlert handles POST /broadcast/emergency-alert
// It pushes to the emergency_alert topic, optionally narrowed to a
// role.
func (h *HTTPHandler) BroadcastEmergencyAlert(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	env := domain.NewEnvelope(domain.MsgTypeEmergencyAlert, req.Payload)

	var delivered int
	if req.Role != "" {
		role := domain.Role(req.Role)
		if !role.Valid() {
			http.Error(w, "unknown role", http.StatusBadRequest)
			return
		}
		delivered = h.hub.BroadcastToRole(role, env)
	} else {
		delivered = h.hub.BroadcastToTopic(domain.TopicEmergencyAlert, env)
	}
	writeJSON(w, http.StatusOK, broadcastResponse{Delivered: delivered})
}

// BroadcastSystem handles POST /broadcast/system. Everyone gets it.
func (h *HTTPHandler) BroadcastSystem(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	delivered := h.hub.BroadcastToAll(domain.NewEnvelope(domain.TopicSystemAlert, req.Payload))
	writeJSON(w, http.StatusOK, broadcastResponse{Delivered: delivered})
}

type alertRequest struct {
	AlertType string         `json:"alert_type"`
	Priority  string         `json:"priority,omitempty"`
	Latitude  float64        `json:"latitude,omitempty"`
	Longitude float64        `json:"longitude,omitempty"`
	RadiusKm  float64        `json:"radius_km,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Roles     []string       `json:"roles,omitempty"`
}

type alertResponse struct {
	AlertID   string  `json:"alert_id"`
	Delivered int     `json:"delivered"`
	RadiusKm  float64 `json:"radius_km"`
}

func (req *alertRequest) roles() []domain.Role {
	out := make([]domain.Role, 0, len(req.Roles))
	for _, r := range req.Roles {
		out = append(out, domain.Role(r))
	}
	return out
}

func (req *alertRequest) priority() zones.Priority {
	if req.Priority == "" {
		return ""
	}
	return zones.Priority(req.Priority)
}

// SendLocationAlert handles POST /alerts/location
func (h *HTTPHandler) SendLocationAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AlertType == "" {
		http.Error(w, "alert_type is required", http.StatusBadRequest)
		return
	}
	center := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	if !geo.Valid(center) {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	priority := req.priority()
	if priority == "" {
		priority = zones.PriorityMedium
	}

	alert, sent := h.dispatcher.SendLocationAlert(r.Context(), req.AlertType, priority,
		center, req.RadiusKm, req.Message, req.Data, req.roles()...)
	writeJSON(w, http.StatusOK, alertResponse{AlertID: alert.ID, Delivered: sent, RadiusKm: alert.RadiusKm})
}

// SendZoneAlert handles POST /alerts/zone/{zone_id}
func (h *HTTPHandler) SendZoneAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AlertType == "" {
		http.Error(w, "alert_type is required", http.StatusBadRequest)
		return
	}

	alert, sent, err := h.dispatcher.SendZoneAlert(r.Context(), mux.Vars(r)["zone_id"],
		req.AlertType, req.priority(), req.Message, req.Data)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownZone) {
			http.Error(w, "unknown zone", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to send zone alert", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alertResponse{AlertID: alert.ID, Delivered: sent, RadiusKm: alert.RadiusKm})
}

// SendProximityAlert handles POST /alerts/proximity/{user_id}
func (h *HTTPHandler) SendProximityAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AlertType == "" {
		http.Error(w, "alert_type is required", http.StatusBadRequest)
		return
	}
	priority := req.priority()
	if priority == "" {
		priority = zones.PriorityMedium
	}

	alert, sent, err := h.dispatcher.SendProximityAlert(r.Context(), mux.Vars(r)["user_id"],
		req.AlertType, priority, req.RadiusKm, req.Message, req.Data, req.roles()...)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoKnownLocation) {
			http.Error(w, "user has no known location", http.StatusConflict)
			return
		}
		http.Error(w, "failed to send proximity alert", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alertResponse{AlertID: alert.ID, Delivered: sent, RadiusKm: alert.RadiusKm})
}

// EscalateAlert handles POST /alerts/{alert_id}/escalate
func (h *HTTPHandler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]
	sent, err := h.dispatcher.Escalate(r.Context(), alertID)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrUnknownAlert):
			http.Error(w, "unknown alert", http.StatusNotFound)
		case errors.Is(err, dispatch.ErrEscalationLimit):
			http.Error(w, "escalation limit reached", http.StatusConflict)
		default:
			http.Error(w, "failed to escalate", http.StatusInternalServerError)
		}
		return
	}
	alert, _ := h.dispatcher.Alert(alertID)
	writeJSON(w, http.StatusOK, alertResponse{AlertID: alertID, Delivered: sent, RadiusKm: alert.RadiusKm})
}

// ResolveAlert handles DELETE /alerts/{alert_id}
func (h *HTTPHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	if !h.dispatcher.Resolve(mux.Vars(r)["alert_id"]) {
		http.Error(w, "unknown alert", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// ListAlerts handles GET /alerts
func (h *HTTPHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.dispatcher.ActiveAlerts()
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// ConnectionsResponse is the API response for connection stats.
type ConnectionsResponse struct {
	Total  int            `json:"total"`
	ByRole map[string]int `json:"by_role"`
	Areas  map[string]int `json:"emergency_areas"`
}

// GetConnections handles GET /connections
func (h *HTTPHandler) GetConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConnectionsResponse{
		Total:  h.hub.Count(),
		ByRole: h.hub.CountByRole(),
		Areas:  h.hub.AreaInfo(),
	})
}

// GetZones handles GET /zones
func (h *HTTPHandler) GetZones(w http.ResponseWriter, r *http.Request) {
	zs := h.zones.Zones()
	writeJSON(w, http.StatusOK, map[string]any{
		"zones": zs,
		"total": len(zs),
	})
}

// HealthCheck handles GET /health. Degraded means the broker client
// gave up reconnecting; live traffic still flows.
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	body := map[string]any{
		"connections": h.hub.Count(),
	}
	if h.broker != nil {
		state := h.broker.State()
		body["broker_state"] = state.String()
		body["pending_events"] = h.broker.PendingCount()
		if state == broker.StateFailed {
			status = "degraded"
		}
	}
	body["status"] = status

	code := http.StatusOK
	if status == "degraded" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
