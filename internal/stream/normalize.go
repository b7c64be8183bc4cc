package stream

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"gerrit-watch/internal/models"
)

// normalizeRecord turns one query result into a synthetic patchset-created
// event. ok is false for the statistics record that closes a result set.
func normalizeRecord(raw []byte) (ev *models.Event, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false, fmt.Errorf("failed to parse query record: %w", err)
	}

	if tag, found := fields["type"]; found {
		var recordType string
		if json.Unmarshal(tag, &recordType) == nil && recordType == models.TypeStats {
			return nil, false, nil
		}
		delete(fields, "type")
	}

	ev = &models.Event{
		Type:     models.TypePatchsetCreated,
		PatchSet: &models.PatchSet{},
	}

	if owner, found := fields["owner"]; found {
		var account models.Account
		if json.Unmarshal(owner, &account) == nil {
			ev.Uploader = &account
		}
		delete(fields, "owner")
	}
	if createdOn, found := fields["createdOn"]; found {
		_ = json.Unmarshal(createdOn, &ev.PatchSet.CreatedOn)
		delete(fields, "createdOn")
	}
	if lastUpdated, found := fields["lastUpdated"]; found {
		_ = json.Unmarshal(lastUpdated, &ev.PatchSet.LastUpdated)
		delete(fields, "lastUpdated")
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-encode change payload: %w", err)
	}
	if err := json.Unmarshal(payload, &ev.Change); err != nil {
		return nil, false, fmt.Errorf("failed to decode change payload: %w", err)
	}
	return ev, true, nil
}

// normalizeResults converts a query result set into events, keeping at most
// limit of them in the order the server returned, then sorting them oldest
// patch set first.
func normalizeResults(records [][]byte, limit int, logger *logrus.Logger) []*models.Event {
	events := make([]*models.Event, 0, len(records))
	for _, raw := range records {
		ev, ok, err := normalizeRecord(raw)
		if err != nil {
			logger.Warnf("Skipping query record: %v", err)
			continue
		}
		if !ok {
			continue
		}
		events = append(events, ev)
	}

	if limit >= 0 && len(events) > limit {
		events = events[:limit]
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedOn() < events[j].CreatedOn()
	})
	return events
}
