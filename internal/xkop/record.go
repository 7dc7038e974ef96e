package xkop

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRecord reads "idx=value". Both parts accept decimal or 0x hex.
func ParseRecord(s string) (Record, error) {
	idxText, valText, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return Record{}, fmt.Errorf("record %q: want idx=value", s)
	}
	idx, err := strconv.ParseUint(strings.TrimSpace(idxText), 0, 8)
	if err != nil {
		return Record{}, fmt.Errorf("record %q: index: %w", s, err)
	}
	val, err := strconv.ParseUint(strings.TrimSpace(valText), 0, 16)
	if err != nil {
		return Record{}, fmt.Errorf("record %q: value: %w", s, err)
	}
	return Record{Index: uint8(idx), Value: uint16(val)}, nil
}

// ParseRecords applies ParseRecord to every element of args.
func ParseRecords(args []string) ([]Record, error) {
	records := make([]Record, 0, len(args))
	for _, a := range args {
		r, err := ParseRecord(a)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
