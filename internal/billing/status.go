package billing

import "github.com/lampstand/entitlements/internal/model"

// statusPaid maps subscription statuses to the paid flag.
// Statuses absent from the map leave the record unchanged.
var statusPaid = map[model.SubscriptionStatus]bool{
	model.StatusActive:            true,
	model.StatusTrialing:          true,
	model.StatusPastDue:           false,
	model.StatusCanceled:          false,
	model.StatusUnpaid:            false,
	model.StatusIncompleteExpired: false,
	model.StatusPaused:            false,
}

// PaidForStatus reports whether status grants paid access. known is false
// for statuses that carry no decision, such as incomplete.
func PaidForStatus(status model.SubscriptionStatus) (paid, known bool) {
	paid, known = statusPaid[status]
	return paid, known
}
