package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID = "user_id"
	FieldRole   = "role"

	// Messaging
	FieldRoutingKey = "routing_key"
	FieldTopic      = "topic"

	// Alerting
	FieldAlertID   = "alert_id"
	FieldAlertType = "alert_type"
	FieldZoneID    = "zone_id"
	FieldPriority  = "priority"

	// Service
	FieldService = "service"
)
