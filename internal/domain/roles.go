package domain

// Role identifies the kind of authenticated user behind a connection.
type Role string

const (
	RoleHospital Role = "hospital"
	RoleVendor   Role = "vendor"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

// Valid reports whether the role is one the platform knows.
func (r Role) Valid() bool {
	switch r {
	case RoleHospital, RoleVendor, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// DefaultTopics returns the topic set a connection is auto-subscribed
// to when it registers, keyed by role.
func DefaultTopics(role Role) []string {
	switch role {
	case RoleHospital:
		return []string{
			TopicInventoryUpdate,
			TopicOrderStatusUpdate,
			TopicDeliveryUpdate,
			TopicEmergencyResponse,
			TopicVendorAvailability,
		}
	case RoleVendor:
		return []string{
			TopicOrderPlaced,
			TopicEmergencyAlert,
			TopicPaymentCompleted,
			TopicInventoryRequest,
			TopicDeliveryAssigned,
		}
	case RoleDriver:
		return []string{
			TopicDeliveryAssigned,
			TopicOrderStatusUpdate,
			TopicEmergencyAlert,
		}
	case RoleAdmin:
		return []string{
			TopicSystemAlert,
			TopicUserActivity,
			TopicOrderStatusUpdate,
			TopicPaymentCompleted,
			TopicEmergencyAlert,
			TopicInventoryUpdate,
		}
	}
	return nil
}

// Notification topics clients can subscribe to.
const (
	TopicInventoryUpdate    = "inventory_update"
	TopicInventoryRequest   = "inventory_request"
	TopicOrderPlaced        = "order_placed"
	TopicOrderStatusUpdate  = "order_status_update"
	TopicDeliveryUpdate     = "delivery_update"
	TopicDeliveryAssigned   = "delivery_assigned"
	TopicPaymentCompleted   = "payment_completed"
	TopicEmergencyAlert     = "emergency_alert"
	TopicEmergencyResponse  = "emergency_response"
	TopicVendorAvailability = "vendor_availability"
	TopicSystemAlert        = "system_alert"
	TopicUserActivity       = "user_activity"
)
