package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/topiccache"
)

// Static decoding errors
var (
	ErrMissingTimeColumn = errors.New("response has no time column")
	ErrBadTimestamp      = errors.New("cannot parse row timestamp")
	ErrUnorderedRows     = errors.New("response rows not strictly increasing by time")
)

// influxResponse represents the JSON response of the InfluxDB HTTP query API.
type influxResponse struct {
	Results []struct {
		StatementID int `json:"statement_id"` //nolint:tagliatelle // InfluxDB API uses snake_case
		Series      []struct {
			Name    string   `json:"name"`
			Columns []string `json:"columns"`
			Values  [][]any  `json:"values"`
		} `json:"series"`
		Err string `json:"error"`
	} `json:"results"`
	Err string `json:"error"`
}

func parseResponse(body []byte) (*influxResponse, error) {
	response := &influxResponse{}
	if err := json.Unmarshal(body, response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if response.Err != "" {
		return nil, fmt.Errorf("%w: %s", ErrArchiveResponse, response.Err)
	}

	for _, result := range response.Results {
		if result.Err != "" {
			return nil, fmt.Errorf("%w: %s", ErrArchiveResponse, result.Err)
		}
	}

	return response, nil
}

// column describes how one response column maps onto a row field. The
// archive flattens array fields into numeric-suffixed columns (forceX0,
// forceX1, ...); those are collapsed back into a single []float64 field,
// mirroring how the topics were published.
type column struct {
	field      string
	arrayIndex int
	isArray    bool
	isTime     bool
}

func planColumns(names []string) []column {
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}

	plan := make([]column, len(names))
	for i, n := range names {
		if n == "time" {
			plan[i] = column{isTime: true}

			continue
		}

		if prefix, index, ok := splitArraySuffix(n); ok {
			if _, zero := present[prefix+"0"]; zero {
				plan[i] = column{field: prefix, arrayIndex: index, isArray: true}

				continue
			}
		}

		plan[i] = column{field: n}
	}

	return plan
}

// splitArraySuffix splits a trailing decimal index off a column name.
// Both the prefix and the suffix must be non-empty.
func splitArraySuffix(name string) (prefix string, index int, ok bool) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}

	if i == 0 || i == len(name) {
		return "", 0, false
	}

	index = 0
	for _, d := range name[i:] {
		index = index*10 + int(d-'0')
	}

	return name[:i], index, true
}

// tableFromSeries decodes one response series into a table. Rows arrive
// ordered by time; a violation is an archive contract error, not
// something to repair silently.
func tableFromSeries(log logrus.FieldLogger, columns []string, values [][]any) (*topiccache.Table, error) {
	plan := planColumns(columns)

	timeIdx := -1
	arraySizes := make(map[string]int)
	for i, col := range plan {
		if col.isTime {
			timeIdx = i
		}
		if col.isArray && col.arrayIndex+1 > arraySizes[col.field] {
			arraySizes[col.field] = col.arrayIndex + 1
		}
	}
	if timeIdx < 0 {
		return nil, ErrMissingTimeColumn
	}

	table := topiccache.NewTable()

	var previous time.Time
	for _, value := range values {
		if len(value) != len(plan) {
			return nil, fmt.Errorf("%w: row has %d values for %d columns", ErrArchiveResponse, len(value), len(plan))
		}

		timestamp, err := parseTimestamp(value[timeIdx])
		if err != nil {
			return nil, err
		}

		if !table.Empty() && !timestamp.After(previous) {
			return nil, fmt.Errorf("%w: %s after %s", ErrUnorderedRows,
				timestamp.Format(time.RFC3339Nano), previous.Format(time.RFC3339Nano))
		}

		row := topiccache.Row{Timestamp: timestamp, Values: make(map[string]any, len(plan)-1)}

		for i, col := range plan {
			switch {
			case col.isTime:
			case col.isArray:
				arr, ok := row.Values[col.field].([]float64)
				if !ok {
					arr = make([]float64, arraySizes[col.field])
					row.Values[col.field] = arr
				}
				if f, ok := toFloat(value[i]); ok {
					arr[col.arrayIndex] = f
				} else {
					log.WithFields(logrus.Fields{
						"field": col.field,
						"index": col.arrayIndex,
					}).Warn("Incomplete array in archive data")
				}
			default:
				row.Values[col.field] = value[i]
			}
		}

		table.Append(row)
		previous = timestamp
	}

	return table, nil
}

func parseTimestamp(value any) (time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBadTimestamp, value)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}

	return timestamp, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
