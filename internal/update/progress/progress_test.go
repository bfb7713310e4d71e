package progress

import (
	"sync"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"42.50", 42.5, true},
		{"0", 0, true},
		{"100", 100, true},
		{"", 0, false},
		{"  ", 0, false},
		{"not-a-number", 0, false},
		{"-1", 0, false},
		{"101", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseLine(c.line)
		assert.Equal(t, ok, c.ok, c.line)
		if ok {
			assert.Equal(t, got, c.want, c.line)
		}
	}
}

func TestPhaseReportIsMonotoneWithinPhase(t *testing.T) {
	var emitted []float64
	p := &Phase{start: 0, stop: 50, last: 0, mu: &sync.Mutex{}, emit: func(g float64) { emitted = append(emitted, g) }}

	p.Report(10)
	p.Report(10) // duplicate, dropped
	p.Report(5)  // regressive, dropped
	p.Report(100)

	assert.DeepEqual(t, emitted, []float64{5, 50})
}

func TestReporterEnforcesGlobalMonotonicity(t *testing.T) {
	r, err := NewReporter(Weights{Update: 1, Fetch: 1, Upgrade: 1})
	assert.NilError(t, err)
	defer r.Close()

	var lastSeen float64
	r.emitLine(10)
	lastSeen = r.lastLine
	assert.Equal(t, lastSeen, float64(10))

	r.emitLine(5) // regressive global value, dropped
	assert.Equal(t, r.lastLine, float64(10))
}
