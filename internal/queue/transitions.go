package queue

import "clinicq/waitqueue-service/internal/models"

// Statuses an entry must currently hold for each engine operation.
// Complete and remove accept any status and are not listed.
var transitionMap = map[string][]string{
	"call_next": {models.StatusWaiting},
	"serve":     {models.StatusCalled},
	"update":    {models.StatusWaiting},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
