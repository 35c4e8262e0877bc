package archive

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestSplitArraySuffix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		index  int
		ok     bool
	}{
		{name: "absoluteTemperature0", prefix: "absoluteTemperature", index: 0, ok: true},
		{name: "forceActuator112", prefix: "forceActuator", index: 112, ok: true},
		{name: "mixingValve", ok: false},
		{name: "1234", ok: false},
		{name: "", ok: false},
	}

	for _, test := range tests {
		prefix, index, ok := splitArraySuffix(test.name)
		assert.Equal(t, test.ok, ok, test.name)
		if test.ok {
			assert.Equal(t, test.prefix, prefix, test.name)
			assert.Equal(t, test.index, index, test.name)
		}
	}
}

func TestPlanColumns(t *testing.T) {
	t.Run("collapses numeric suffixed columns", func(t *testing.T) {
		plan := planColumns([]string{"time", "absoluteTemperature0", "absoluteTemperature1", "salIndex"})

		assert.True(t, plan[0].isTime)
		assert.True(t, plan[1].isArray)
		assert.Equal(t, "absoluteTemperature", plan[1].field)
		assert.Equal(t, 0, plan[1].arrayIndex)
		assert.Equal(t, 1, plan[2].arrayIndex)
		assert.False(t, plan[3].isArray)
		assert.Equal(t, "salIndex", plan[3].field)
	})

	t.Run("suffixed name without index zero stays scalar", func(t *testing.T) {
		plan := planColumns([]string{"time", "sensor1"})

		assert.False(t, plan[1].isArray)
		assert.Equal(t, "sensor1", plan[1].field)
	})
}

func TestTableFromSeries(t *testing.T) {
	columns := []string{"time", "absoluteTemperature0", "absoluteTemperature1", "mixingValve"}

	t.Run("decodes rows with collapsed arrays", func(t *testing.T) {
		values := [][]any{
			{"2025-05-19T23:40:00Z", 12.5, 12.7, 0.0},
			{"2025-05-19T23:40:01Z", 12.6, 12.8, 1.0},
		}

		table, err := tableFromSeries(testLogger(), columns, values)
		require.NoError(t, err)
		require.Equal(t, 2, table.Len())

		first := table.First()
		assert.Equal(t, time.Date(2025, 5, 19, 23, 40, 0, 0, time.UTC), first.Timestamp)
		assert.Equal(t, []float64{12.5, 12.7}, first.Values["absoluteTemperature"])
		assert.Equal(t, 0.0, first.Values["mixingValve"])
	})

	t.Run("requires a time column", func(t *testing.T) {
		_, err := tableFromSeries(testLogger(), []string{"mixingValve"}, [][]any{{1.0}})
		assert.ErrorIs(t, err, ErrMissingTimeColumn)
	})

	t.Run("rejects unordered rows", func(t *testing.T) {
		values := [][]any{
			{"2025-05-19T23:40:01Z", 12.5, 12.7, 0.0},
			{"2025-05-19T23:40:00Z", 12.6, 12.8, 1.0},
		}

		_, err := tableFromSeries(testLogger(), columns, values)
		assert.ErrorIs(t, err, ErrUnorderedRows)
	})

	t.Run("rejects duplicate timestamps", func(t *testing.T) {
		values := [][]any{
			{"2025-05-19T23:40:00Z", 12.5, 12.7, 0.0},
			{"2025-05-19T23:40:00Z", 12.6, 12.8, 1.0},
		}

		_, err := tableFromSeries(testLogger(), columns, values)
		assert.ErrorIs(t, err, ErrUnorderedRows)
	})

	t.Run("rejects unparseable timestamps", func(t *testing.T) {
		_, err := tableFromSeries(testLogger(), columns, [][]any{{1747698000.0, 12.5, 12.7, 0.0}})
		assert.ErrorIs(t, err, ErrBadTimestamp)

		_, err = tableFromSeries(testLogger(), columns, [][]any{{"yesterday", 12.5, 12.7, 0.0}})
		assert.ErrorIs(t, err, ErrBadTimestamp)
	})

	t.Run("rejects rows of the wrong width", func(t *testing.T) {
		_, err := tableFromSeries(testLogger(), columns, [][]any{{"2025-05-19T23:40:00Z", 12.5}})
		assert.ErrorIs(t, err, ErrArchiveResponse)
	})

	t.Run("null array element leaves a zero", func(t *testing.T) {
		values := [][]any{
			{"2025-05-19T23:40:00Z", 12.5, nil, 0.0},
		}

		table, err := tableFromSeries(testLogger(), columns, values)
		require.NoError(t, err)
		assert.Equal(t, []float64{12.5, 0}, table.First().Values["absoluteTemperature"])
	})
}
