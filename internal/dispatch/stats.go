package dispatch

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"gerrit-watch/internal/models"
)

// SummaryLayout is the timestamp layout of the summary line
const SummaryLayout = "2006-01-02 15:04:05"

// Stats counts the events seen by a Dispatcher
type Stats struct {
	Total     int64
	Created   int64
	Commented int64
	Merged    int64
	Restored  int64
	Unknown   int64
}

func (s *Stats) count(eventType string) {
	switch eventType {
	case models.TypePatchsetCreated:
		s.Created++
	case models.TypeCommentAdded:
		s.Commented++
	case models.TypeChangeMerged:
		s.Merged++
	case models.TypeChangeRestored:
		s.Restored++
	}
}

// Summary renders the one-line diagnostic shown under the change table
func (s Stats) Summary(now time.Time) string {
	return fmt.Sprintf("%s  events:%s  created:%d  commented:%d  merged:%d  restored:%d",
		now.Format(SummaryLayout), humanize.Comma(s.Total), s.Created, s.Commented, s.Merged, s.Restored)
}
