package service

import (
	"time"

	"github.com/c54335/contract-delivery-tracker/model"
)

// StatusOf derives a deliverable's status from its dates. It keeps no state:
// the same inputs always give the same label. Dates compare by calendar day.
func StatusOf(due, submitted, approved *time.Time, today time.Time) model.Status {
	switch {
	case due == nil:
		return model.StatusUnknown
	case approved != nil:
		return model.StatusApproved
	case submitted != nil:
		if !DateOf(*submitted).After(DateOf(*due)) {
			return model.StatusSubmittedOnTime
		}
		return model.StatusSubmittedLate
	case !DateOf(today).After(DateOf(*due)):
		return model.StatusPending
	default:
		return model.StatusOverdue
	}
}
