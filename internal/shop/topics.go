package shop

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
)

// Partition key = order_id so all events for one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// RealtimeChannel is the pub/sub channel a subscriber watches for a
// given order.
func RealtimeChannel(orderID string) string { return "order_" + orderID }
