package models

import (
	"bytes"
	"math"
	"strconv"
	"time"
)

// DisplayLayout is the layout used to render timestamps
const DisplayLayout = "2006-01-02 15:04"

// maxTimestamp is the last second of year 9999, the latest time DisplayLayout
// can render.
const maxTimestamp = 253402300799

// Timestamp is a Gerrit epoch-seconds timestamp.
// Decoding never fails: missing or malformed input decodes to zero.
type Timestamp int64

// UnmarshalJSON accepts a JSON number or a numeric string
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(bytes.TrimSpace(data), `"`)
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(n) || n < 0 || n > maxTimestamp {
		*t = 0
		return nil
	}
	*t = Timestamp(n)
	return nil
}

// Time converts the timestamp to a time.Time
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0)
}

// Format renders the timestamp for display, empty when unset
func (t Timestamp) Format() string {
	if t == 0 {
		return ""
	}
	return t.Time().Local().Format(DisplayLayout)
}
