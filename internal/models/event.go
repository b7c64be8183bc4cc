package models

import "encoding/json"

// Gerrit stream-events type tags
const (
	TypePatchsetCreated = "patchset-created"
	TypeCommentAdded    = "comment-added"
	TypeChangeMerged    = "change-merged"
	TypeChangeRestored  = "change-restored"

	// TypeStats tags the trailing statistics record of a query result.
	TypeStats = "stats"
)

// Account represents a Gerrit user account
type Account struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// DisplayName returns the username, falling back to the full name
func (a *Account) DisplayName() string {
	if a == nil {
		return ""
	}
	if a.Username != "" {
		return a.Username
	}
	return a.Name
}

// Approval is a scored review vote carried by comment-added events.
// Value is a string on the wire ("-2", "1", ...).
type Approval struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value"`
}

// PatchSet represents patchset information in an event
type PatchSet struct {
	Number      json.Number `json:"number,omitempty"`
	Revision    string      `json:"revision,omitempty"`
	Ref         string      `json:"ref,omitempty"`
	Uploader    *Account    `json:"uploader,omitempty"`
	CreatedOn   Timestamp   `json:"createdOn,omitempty"`
	LastUpdated Timestamp   `json:"lastUpdated,omitempty"`
}

// Change represents change information in an event
type Change struct {
	Project string      `json:"project,omitempty"`
	Branch  string      `json:"branch,omitempty"`
	ID      string      `json:"id,omitempty"`
	Number  json.Number `json:"number,omitempty"`
	Subject string      `json:"subject,omitempty"`
	Owner   *Account    `json:"owner,omitempty"`
	URL     string      `json:"url,omitempty"`
	Topic   string      `json:"topic,omitempty"`
	Status  string      `json:"status,omitempty"`
}

// Identity returns the key a change is tracked under: its canonical URL,
// or the Change-Id when the server does not report URLs.
func (c Change) Identity() string {
	if c.URL != "" {
		return c.URL
	}
	return c.ID
}

// Event represents a Gerrit stream-events JSON record
type Event struct {
	Type           string     `json:"type"`
	Change         Change     `json:"change"`
	PatchSet       *PatchSet  `json:"patchSet,omitempty"`
	Uploader       *Account   `json:"uploader,omitempty"`
	Author         *Account   `json:"author,omitempty"`
	Submitter      *Account   `json:"submitter,omitempty"`
	Restorer       *Account   `json:"restorer,omitempty"`
	Approvals      []Approval `json:"approvals,omitempty"`
	Comment        string     `json:"comment,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	EventCreatedOn Timestamp  `json:"eventCreatedOn,omitempty"`
}

// CreatedOn returns the patch set creation time, zero when absent
func (e *Event) CreatedOn() Timestamp {
	if e.PatchSet == nil {
		return 0
	}
	return e.PatchSet.CreatedOn
}
