package models

var allowedStatuses = map[string][]string{
	OrderStatusPending:   {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
	OrderStatusDelivered: {OrderStatusReturned},
	OrderStatusCancelled: nil,
	OrderStatusReturned:  nil,
}

// AllowedStatuses returns the statuses an order in the given status may move to.
func AllowedStatuses(from string) []string {
	next := allowedStatuses[from]
	out := make([]string, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is a legal order status change.
func CanTransition(from, to string) bool {
	for _, s := range allowedStatuses[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsKnownStatus reports whether s is an order status.
func IsKnownStatus(s string) bool {
	_, ok := allowedStatuses[s]
	return ok
}

// ReleasesStock reports whether entering status s gives held stock back.
func ReleasesStock(s string) bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}
