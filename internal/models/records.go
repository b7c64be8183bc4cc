package models

import (
	"bufio"
	"bytes"
	"io"
)

// maxRecordSize bounds a single JSON line; large comments can exceed bufio's default.
const maxRecordSize = 4 << 20

// SplitRecords splits newline-delimited JSON output into one record per line,
// skipping blank lines.
func SplitRecords(data []byte) ([][]byte, error) {
	var records [][]byte
	scanner := NewRecordScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		record := make([]byte, len(line))
		copy(record, line)
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// NewRecordScanner returns a line scanner sized for Gerrit JSON records
func NewRecordScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	return scanner
}
