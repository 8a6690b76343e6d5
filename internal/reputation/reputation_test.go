package reputation

import (
	"testing"
	"time"

	"github.com/mbd888/missionengine/internal/outcome"
	"github.com/stretchr/testify/assert"
)

func TestCalculateBaseline(t *testing.T) {
	s := Calculate("worker-1", nil)
	assert.Equal(t, 50, s.Value)
}

func TestCalculateWorkerPassAndFail(t *testing.T) {
	rows := []*outcome.JobOutcome{
		{AgentID: "worker-1", Role: "worker", Verdict: outcome.Pass, At: time.Now()},
		{AgentID: "worker-1", Role: "worker", Verdict: outcome.Fail, At: time.Now()},
	}
	s := Calculate("worker-1", rows)
	// 50 + 2 - 15 = 37
	assert.Equal(t, 37, s.Value)
}

func TestCalculateVerifierAlignAndOutlier(t *testing.T) {
	rows := []*outcome.JobOutcome{
		{AgentID: "verifier-1", Role: "verifier", Verdict: outcome.Pass, At: time.Now()},
		{AgentID: "verifier-2", Role: "verifier", Verdict: outcome.Outlier, At: time.Now()},
	}
	s1 := Calculate("verifier-1", rows)
	assert.Equal(t, 51, s1.Value) // 50+1

	s2 := Calculate("verifier-2", rows)
	assert.Equal(t, 40, s2.Value) // 50-10
}

func TestCalculateIsOrderIndependent(t *testing.T) {
	rating5 := 5
	a := []*outcome.JobOutcome{
		{AgentID: "w", Role: "worker", Verdict: outcome.Pass, Rating: &rating5},
		{AgentID: "w", Role: "worker", Verdict: outcome.Fail},
	}
	b := []*outcome.JobOutcome{a[1], a[0]}

	assert.Equal(t, Calculate("w", a).Value, Calculate("w", b).Value)
}

func TestCalculateClampsAtZeroAndHundred(t *testing.T) {
	var rows []*outcome.JobOutcome
	for i := 0; i < 10; i++ {
		rows = append(rows, &outcome.JobOutcome{AgentID: "w", Role: "worker", Verdict: outcome.Fail})
	}
	s := Calculate("w", rows)
	assert.Equal(t, 0, s.Value)

	rows = nil
	for i := 0; i < 50; i++ {
		rows = append(rows, &outcome.JobOutcome{AgentID: "w", Role: "worker", Verdict: outcome.Pass})
	}
	s = Calculate("w", rows)
	assert.Equal(t, 100, s.Value)
}

func TestRoundRatingDelta(t *testing.T) {
	assert.Equal(t, 2.0, roundRatingDelta(5))
	assert.Equal(t, 0.0, roundRatingDelta(3))
	assert.Equal(t, -2.0, roundRatingDelta(1))
}
