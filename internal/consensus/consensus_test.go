package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateN1Decisive(t *testing.T) {
	r := Evaluate([]Vote{{"v1", VerdictPass}}, 1)
	assert.Equal(t, OutcomePass, r.Outcome)
	assert.Empty(t, r.Outliers)
}

func TestEvaluateN2BothPass(t *testing.T) {
	r := Evaluate([]Vote{{"v1", VerdictPass}, {"v2", VerdictPass}}, 2)
	assert.Equal(t, OutcomePass, r.Outcome)
}

func TestEvaluateN2Split(t *testing.T) {
	// Mirrors S3: risk=medium (N=2), V1 PASS, V2 FAIL -> DISPUTE, both outliers.
	r := Evaluate([]Vote{{"v1", VerdictPass}, {"v2", VerdictFail}}, 2)
	assert.Equal(t, OutcomeDispute, r.Outcome)
	assert.True(t, r.Outliers["v1"])
	assert.True(t, r.Outliers["v2"])
}

func TestEvaluateN3MajorityWithOutlier(t *testing.T) {
	r := Evaluate([]Vote{
		{"v1", VerdictPass},
		{"v2", VerdictFail},
		{"v3", VerdictPass},
	}, 3)
	assert.Equal(t, OutcomePass, r.Outcome)
	assert.True(t, r.Outliers["v2"])
	assert.False(t, r.Outliers["v1"])
	assert.False(t, r.Outliers["v3"])
}

func TestEvaluatePendingWhenNotEnoughVotes(t *testing.T) {
	r := Evaluate([]Vote{{"v1", VerdictFail}}, 2)
	assert.Equal(t, OutcomePending, r.Outcome)
}

func TestRequiredVerifiersByRisk(t *testing.T) {
	assert.Equal(t, 1, RequiredVerifiers("low"))
	assert.Equal(t, 2, RequiredVerifiers("medium"))
	assert.Equal(t, 3, RequiredVerifiers("high"))
}

func TestEvaluateIsIdempotent(t *testing.T) {
	votes := []Vote{{"v1", VerdictPass}, {"v2", VerdictFail}, {"v3", VerdictPass}}
	a := Evaluate(votes, 3)
	b := Evaluate(votes, 3)
	assert.Equal(t, a, b)
}
