package orders

const (
	TopicOrderPlaced        = "marketplace.order.placed"
	TopicOrderStatusChanged = "marketplace.order.status_changed"
)

// Topics lists every topic the service publishes to.
var Topics = []string{TopicOrderPlaced, TopicOrderStatusChanged}

// Partition key = order id, so all events of one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
