// Package hub maintains the authoritative registry of live client
// connections and fans messages out to precise subsets of them: by id,
// role, topic subscription, emergency area, or geographic radius.
package hub

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
	"github.com/aabine/flow-realtime/internal/metrics"
	"github.com/aabine/flow-realtime/pkg/log"
)

// Hub owns the connection map and the topic/area membership indexes.
// All three are guarded by one lock; sends happen outside it so a slow
// socket never stalls the registry.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[string]map[string]struct{}
	areas   map[string]map[string]struct{}

	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an empty hub.
func New(cfg Config, logger zerolog.Logger) *Hub {
	cfg.applyDefaults()
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]struct{}),
		areas:   make(map[string]map[string]struct{}),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Connect registers a client and auto-subscribes it to its role's
// default topic set. A second connection for the same id replaces the
// first, which is torn down.
func (h *Hub) Connect(c *Client) {
	h.mu.Lock()
	old, exists := h.clients[c.ID]
	if exists {
		h.removeLocked(old)
	}
	now := h.now()
	c.connectedAt = now
	c.lastLiveness = now
	h.clients[c.ID] = c
	for _, topic := range domain.DefaultTopics(c.Role) {
		h.subscribeLocked(c, topic)
	}
	h.updateGauges()
	h.mu.Unlock()

	if exists {
		old.close()
	}
	h.logger.Info().
		Str(log.FieldUserID, c.ID).
		Str(log.FieldRole, string(c.Role)).
		Msg("client connected")
}

// Disconnect removes a client from the registry and from every topic
// and area index it belonged to. Disconnecting an unknown id is a
// no-op.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		h.removeLocked(c)
		h.updateGauges()
	}
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info().Str(log.FieldUserID, id).Msg("client disconnected")
	}
}

// removeLocked drops a client from all indexes. Caller holds the lock.
func (h *Hub) removeLocked(c *Client) {
	for topic := range c.topics {
		h.dropMemberLocked(h.topics, topic, c.ID)
	}
	for areaID, members := range h.areas {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.areas, areaID)
		}
	}
	delete(h.clients, c.ID)
}

// Send delivers a message to one client, best effort. A failed send
// means the connection is dead and it is disconnected.
func (h *Hub) Send(id string, message any) bool {
	data, err := json.Marshal(message)
	if err != nil {
		return false
	}

	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if !c.enqueue(data) {
		metrics.IncSendFailure()
		h.Disconnect(id)
		return false
	}
	metrics.IncFramesSent("unicast")
	return true
}

// BroadcastToRole sends to every connection with the given role and
// returns the delivered count. A failed send disconnects that client
// without aborting the rest of the broadcast.
func (h *Hub) BroadcastToRole(role domain.Role, message any) int {
	return h.fanOut("role", message, func(c *Client) bool {
		return c.Role == role
	})
}

// BroadcastToTopic sends to every connection subscribed to the topic.
func (h *Hub) BroadcastToTopic(topic string, message any) int {
	h.mu.RLock()
	members := h.topics[topic]
	ids := make(map[string]struct{}, len(members))
	for id := range members {
		ids[id] = struct{}{}
	}
	h.mu.RUnlock()

	return h.fanOut("topic", message, func(c *Client) bool {
		_, ok := ids[c.ID]
		return ok
	})
}

// BroadcastToRadius sends to every connection with a known location
// within radiusKm of center, optionally restricted to the given roles.
// Connections without a location are never matched.
func (h *Hub) BroadcastToRadius(center geo.Point, radiusKm float64, message any, roles ...domain.Role) int {
	return h.fanOut("radius", message, func(c *Client) bool {
		if len(roles) > 0 && !roleIn(c.Role, roles) {
			return false
		}
		if c.location == nil {
			return false
		}
		return geo.DistanceKm(center, c.location.Point) <= radiusKm
	})
}

// Proximity is a connection matched by a radius query, with its
// distance from the query center.
type Proximity struct {
	ID         string
	Role       domain.Role
	DistanceKm float64
}

// WithinRadius returns the connections with a known location inside
// the circle, optionally restricted by role, sorted nearest first.
func (h *Hub) WithinRadius(center geo.Point, radiusKm float64, roles ...domain.Role) []Proximity {
	h.mu.RLock()
	var matches []Proximity
	for _, c := range h.clients {
		if len(roles) > 0 && !roleIn(c.Role, roles) {
			continue
		}
		if c.location == nil {
			continue
		}
		d := geo.DistanceKm(center, c.location.Point)
		if d <= radiusKm {
			matches = append(matches, Proximity{ID: c.ID, Role: c.Role, DistanceKm: d})
		}
	}
	h.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	return matches
}

// BroadcastToAll sends to every connection except those whose role is
// excluded.
func (h *Hub) BroadcastToAll(message any, excludeRoles ...domain.Role) int {
	return h.fanOut("all", message, func(c *Client) bool {
		return !roleIn(c.Role, excludeRoles)
	})
}

// BroadcastToArea sends to every member of an emergency area channel.
func (h *Hub) BroadcastToArea(areaID string, message any) int {
	h.mu.RLock()
	members := h.areas[areaID]
	ids := make(map[string]struct{}, len(members))
	for id := range members {
		ids[id] = struct{}{}
	}
	h.mu.RUnlock()

	return h.fanOut("area", message, func(c *Client) bool {
		_, ok := ids[c.ID]
		return ok
	})
}

// fanOut snapshots the matching clients under the read lock, then
// delivers outside it. Dead connections found along the way are
// disconnected after the sweep.
func (h *Hub) fanOut(method string, message any, match func(*Client) bool) int {
	data, err := json.Marshal(message)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	var dead []string
	for _, c := range targets {
		if c.enqueue(data) {
			sent++
			metrics.IncFramesSent(method)
		} else {
			metrics.IncSendFailure()
			dead = append(dead, c.ID)
		}
	}
	for _, id := range dead {
		h.Disconnect(id)
	}
	return sent
}

// UpdateLocation overwrites a client's last known location. It does
// not trigger any notification by itself.
func (h *Hub) UpdateLocation(id string, lat, lon float64) bool {
	p := geo.Point{Latitude: lat, Longitude: lon}
	if !geo.Valid(p) {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return false
	}
	c.location = &Location{Point: p, UpdatedAt: h.now()}
	return true
}

// LastLocation returns a client's last known location.
func (h *Hub) LastLocation(id string) (geo.Point, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok || c.location == nil {
		return geo.Point{}, false
	}
	return c.location.Point, true
}

// Subscribe adds the client to the given topics, maintaining both the
// per-client set and the topic index.
func (h *Hub) Subscribe(id string, topics []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return false
	}
	for _, topic := range topics {
		h.subscribeLocked(c, topic)
	}
	return true
}

// Unsubscribe removes the client from the given topics.
func (h *Hub) Unsubscribe(id string, topics []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return false
	}
	for _, topic := range topics {
		delete(c.topics, topic)
		h.dropMemberLocked(h.topics, topic, id)
	}
	return true
}

func (h *Hub) subscribeLocked(c *Client, topic string) {
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[string]struct{})
	}
	h.topics[topic][c.ID] = struct{}{}
	c.topics[topic] = struct{}{}
}

func (h *Hub) dropMemberLocked(index map[string]map[string]struct{}, key, id string) {
	if members, ok := index[key]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(index, key)
		}
	}
}

// JoinArea adds a connected client to an emergency area channel.
func (h *Hub) JoinArea(id, areaID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; !ok {
		return false
	}
	if _, ok := h.areas[areaID]; !ok {
		h.areas[areaID] = make(map[string]struct{})
	}
	h.areas[areaID][id] = struct{}{}
	return true
}

// LeaveArea removes a client from an emergency area channel.
func (h *Hub) LeaveArea(id, areaID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropMemberLocked(h.areas, areaID, id)
}

// PingAll sends a liveness probe to every connection, stamping the
// liveness time of each client that accepts the frame. Clients that
// cannot accept it are disconnected. Intended to run on a fixed
// interval driven by the composition root.
func (h *Hub) PingAll() int {
	probe, _ := json.Marshal(domain.NewEnvelope(domain.MsgTypePing, nil))

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	now := h.now()
	probed := 0
	var dead []string
	for _, c := range targets {
		if c.enqueue(probe) {
			probed++
			h.mu.Lock()
			c.lastLiveness = now
			h.mu.Unlock()
		} else {
			dead = append(dead, c.ID)
		}
	}
	for _, id := range dead {
		h.Disconnect(id)
	}
	return probed
}

// CleanupStale disconnects every client whose liveness stamp is older
// than maxIdle and returns how many were removed.
func (h *Hub) CleanupStale(maxIdle time.Duration) int {
	cutoff := h.now().Add(-maxIdle)

	h.mu.RLock()
	var stale []string
	for id, c := range h.clients {
		if c.lastLiveness.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.Disconnect(id)
		h.logger.Info().Str(log.FieldUserID, id).Msg("removed stale connection")
	}
	return len(stale)
}

// Touch refreshes a client's liveness stamp; called for every inbound
// frame.
func (h *Hub) Touch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		c.lastLiveness = h.now()
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CountByRole returns connection counts keyed by role.
func (h *Hub) CountByRole() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range h.clients {
		counts[string(c.Role)]++
	}
	return counts
}

// AreaInfo returns member counts per emergency area channel.
func (h *Hub) AreaInfo() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info := make(map[string]int, len(h.areas))
	for areaID, members := range h.areas {
		info[areaID] = len(members)
	}
	return info
}

// updateGauges mirrors per-role counts into prometheus. Caller holds
// the lock.
func (h *Hub) updateGauges() {
	counts := map[string]int{
		string(domain.RoleHospital): 0,
		string(domain.RoleVendor):   0,
		string(domain.RoleDriver):   0,
		string(domain.RoleAdmin):    0,
	}
	for _, c := range h.clients {
		counts[string(c.Role)]++
	}
	for role, n := range counts {
		metrics.SetActiveConnections(role, n)
	}
}

func roleIn(role domain.Role, roles []domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
