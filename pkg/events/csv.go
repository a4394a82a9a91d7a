package events

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadCSV parses an event table with a header row. Columns are located by
// name, so their order is free and extra columns are ignored. The returned
// table has already passed Validate.
func ReadCSV(r io.Reader) ([]Event, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyEvents
	}
	if err != nil {
		return nil, &ValidationError{Field: "header", Reason: err.Error()}
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	for _, col := range Columns {
		if _, ok := colIndex[col]; !ok {
			return nil, &ValidationError{Field: col, Reason: "missing column"}
		}
	}

	var evs []Event
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ValidationError{Row: row, Field: "record", Reason: err.Error()}
		}
		ev, err := parseRecord(record, colIndex)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Row = row
			}
			return nil, err
		}
		evs = append(evs, ev)
	}

	if err := Validate(evs); err != nil {
		return nil, err
	}
	return evs, nil
}

func parseRecord(record []string, colIndex map[string]int) (Event, error) {
	get := func(col string) (string, error) {
		i := colIndex[col]
		if i >= len(record) {
			return "", &ValidationError{Field: col, Reason: "field is required"}
		}
		return record[i], nil
	}

	var ev Event
	var err error
	for _, s := range []struct {
		col string
		dst *string
	}{
		{"source_id", &ev.SourceID},
		{"source_type", &ev.SourceType},
		{"target_id", &ev.TargetID},
		{"target_type", &ev.TargetType},
		{"relationship_type", &ev.RelationshipType},
	} {
		if *s.dst, err = get(s.col); err != nil {
			return ev, err
		}
	}

	raw, err := get("timestamp")
	if err != nil {
		return ev, err
	}
	if ev.Timestamp, err = parseTimestamp(raw); err != nil {
		return ev, &ValidationError{Field: "timestamp", Reason: err.Error()}
	}

	for _, f := range []struct {
		col string
		dst *float64
	}{
		{"feature1", &ev.Feature1},
		{"feature2", &ev.Feature2},
	} {
		raw, err := get(f.col)
		if err != nil {
			return ev, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return ev, &ValidationError{Field: f.col, Reason: fmt.Sprintf("not a number: %q", raw)}
		}
		*f.dst = v
	}
	return ev, nil
}

// parseTimestamp accepts integer epoch seconds, and tolerates an integral
// float rendering such as "1700000000.0".
func parseTimestamp(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	return int64(f), nil
}

// WriteCSV writes evs with a header in canonical column order.
func WriteCSV(w io.Writer, evs []Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return err
	}
	for _, ev := range evs {
		record := []string{
			ev.SourceID,
			ev.SourceType,
			ev.TargetID,
			ev.TargetType,
			ev.RelationshipType,
			strconv.FormatInt(ev.Timestamp, 10),
			strconv.FormatFloat(ev.Feature1, 'g', -1, 64),
			strconv.FormatFloat(ev.Feature2, 'g', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
