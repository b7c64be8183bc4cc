package registry

import (
	"strings"
	"unicode/utf8"
)

// Status is the review state derived for a change
type Status string

// Known statuses. The zero value means no status could be derived.
const (
	StatusNone      Status = ""
	StatusOpen      Status = "Open"
	StatusMerged    Status = "Merged"
	StatusRestored  Status = "Restored"
	StatusVerified  Status = "Verified"
	StatusFailed    Status = "Failed"
	StatusSucceeded Status = "Succeeded"
	StatusRejected  Status = "Rejected"
	StatusApproved  Status = "Approved"
)

// TextWidth is the display length subjects and comments are cut to
const TextWidth = 60

const ellipsis = "..."

// Change is one tracked change. ID, Username, Topic, Project, Subject and
// CreatedOn are fixed at creation; only Status and Comment are updated.
type Change struct {
	ID        string
	Username  string
	Topic     string
	Project   string
	Subject   string
	CreatedOn string
	Status    Status
	Comment   string
}

// Truncate collapses whitespace and cuts s to width runes, marking the cut
// with an ellipsis.
func Truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= len(ellipsis) {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-len(ellipsis)]) + ellipsis
}
