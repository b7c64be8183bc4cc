package dispatch

import (
	"strconv"
	"strings"

	"gerrit-watch/internal/models"
	"gerrit-watch/internal/registry"
)

// Approval categories
const (
	ApprovalVerified   = "VRIF"
	ApprovalCodeReview = "CRVW"
)

var verifiedStatus = map[int]registry.Status{
	-2: registry.StatusFailed,
	-1: registry.StatusVerified,
	2:  registry.StatusSucceeded,
}

var codeReviewStatus = map[int]registry.Status{
	-2: registry.StatusRejected,
	2:  registry.StatusApproved,
}

// DeriveStatus computes a change status from an approval list. Approvals are
// applied in list order and every match overwrites the previous one, so the
// last matching approval wins regardless of its category.
func DeriveStatus(approvals []models.Approval) registry.Status {
	status := registry.StatusNone
	for _, a := range approvals {
		value, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(a.Value), "+"))
		if err != nil {
			continue
		}

		var table map[int]registry.Status
		switch a.Type {
		case ApprovalVerified:
			table = verifiedStatus
		case ApprovalCodeReview:
			table = codeReviewStatus
		default:
			continue
		}
		if s, ok := table[value]; ok {
			status = s
		}
	}
	return status
}
