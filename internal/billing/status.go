package billing

import "github.com/dukerupert/ideacapture/internal/model"

var statusMap = map[string]model.Status{
	"active":             model.StatusActive,
	"trialing":           model.StatusTrialing,
	"canceled":           model.StatusCanceled,
	"incomplete":         model.StatusIncomplete,
	"incomplete_expired": model.StatusIncompleteExpired,
	"past_due":           model.StatusPastDue,
	"unpaid":             model.StatusUnpaid,
	"paused":             model.StatusCanceled,
}

// MapStatus converts a processor subscription status to a local status.
// Anything unrecognised is treated as canceled.
func MapStatus(processorStatus string) model.Status {
	if s, ok := statusMap[processorStatus]; ok {
		return s
	}
	return model.StatusCanceled
}
