package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend/internal/analyzer"
	"backend/internal/tracker"
	"backend/pkg/aiinterface"
)

// stubMetrics 固定指标表
type stubMetrics map[string]tracker.Metrics

func (s stubMetrics) Get(modelID string) (tracker.Metrics, bool) {
	m, ok := s[modelID]
	return m, ok
}

func cheapFastModel() *aiinterface.ModelDescriptor {
	return &aiinterface.ModelDescriptor{
		ID:              "gpt-4o-mini",
		Provider:        "openai",
		Tier:            aiinterface.TierFast,
		InputCostPer1K:  0.00015,
		OutputCostPer1K: 0.0006,
		Available:       true,
	}
}

func expensivePremiumModel() *aiinterface.ModelDescriptor {
	return &aiinterface.ModelDescriptor{
		ID:              "gpt-4o",
		Provider:        "openai",
		Tier:            aiinterface.TierPremium,
		InputCostPer1K:  0.0025,
		OutputCostPer1K: 0.01,
		Available:       true,
	}
}

func simpleAnalysis(tokens int) *analyzer.Analysis {
	return &analyzer.Analysis{
		Complexity:      analyzer.ComplexitySimple,
		Domain:          "general",
		EstimatedTokens: tokens,
	}
}

func TestRecommendEmptyCandidates(t *testing.T) {
	s := New(stubMetrics{})
	_, err := s.Recommend(simpleAnalysis(10), nil, PriorityBalanced)
	assert.ErrorIs(t, err, ErrNoViableModel)
}

func TestRecommendCostPriorityPrefersCheaperModel(t *testing.T) {
	s := New(stubMetrics{})
	candidates := []*aiinterface.ModelDescriptor{expensivePremiumModel(), cheapFastModel()}

	rec, err := s.Recommend(simpleAnalysis(500), candidates, PriorityCost)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", rec.ModelID)
}

func TestRecommendQualityPriorityPrefersHigherTier(t *testing.T) {
	s := New(stubMetrics{})
	candidates := []*aiinterface.ModelDescriptor{cheapFastModel(), expensivePremiumModel()}

	rec, err := s.Recommend(simpleAnalysis(500), candidates, PriorityQuality)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", rec.ModelID)
}

func TestRankDeterministic(t *testing.T) {
	s := New(stubMetrics{})
	analysis := simpleAnalysis(200)
	candidates := []*aiinterface.ModelDescriptor{cheapFastModel(), expensivePremiumModel()}

	first, err := s.Rank(analysis, candidates, PriorityBalanced)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Rank(analysis, candidates, PriorityBalanced)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRankTieKeepsDeclarationOrder(t *testing.T) {
	s := New(stubMetrics{})
	a := cheapFastModel()
	b := cheapFastModel()
	b.ID = "twin"

	ranked, err := s.Rank(simpleAnalysis(100), []*aiinterface.ModelDescriptor{a, b}, PriorityBalanced)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, a.ID, ranked[0].ModelID, "equal scores keep candidate order")
	assert.Equal(t, "twin", ranked[1].ModelID)
	assert.Equal(t, ranked[0].Score, ranked[1].Score)
}

func TestScoreConfidenceWithoutHistory(t *testing.T) {
	s := New(stubMetrics{})

	rec, err := s.Recommend(simpleAnalysis(100), []*aiinterface.ModelDescriptor{cheapFastModel()}, PriorityBalanced)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Confidence)
}

func TestScoreConfidenceGrowsWithHistory(t *testing.T) {
	metrics := stubMetrics{
		"gpt-4o-mini": {
			ModelID:           "gpt-4o-mini",
			TotalRequests:     30,
			SuccessCount:      30,
			AvgResponseTime:   0.8,
			QualityScore:      0.9,
			AvailabilityScore: 1.0,
		},
	}
	s := New(metrics)

	rec, err := s.Recommend(simpleAnalysis(100), []*aiinterface.ModelDescriptor{cheapFastModel()}, PriorityBalanced)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, rec.Confidence, 1e-9)

	metrics["gpt-4o-mini"] = tracker.Metrics{
		ModelID:           "gpt-4o-mini",
		TotalRequests:     500,
		SuccessCount:      500,
		AvailabilityScore: 1.0,
	}
	rec, err = s.Recommend(simpleAnalysis(100), []*aiinterface.ModelDescriptor{cheapFastModel()}, PriorityBalanced)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Confidence, "confidence caps at 1.0")
}

func TestScorePenalizesUnreliableHistory(t *testing.T) {
	// 同一个模型, 一份干净历史 vs 一份大量失败的历史:
	// 失败历史必须拉低总分
	clean := stubMetrics{
		"gpt-4o-mini": {
			ModelID:           "gpt-4o-mini",
			TotalRequests:     100,
			SuccessCount:      100,
			AvgResponseTime:   0.5,
			QualityScore:      0.9,
			AvailabilityScore: 1.0,
		},
	}
	flaky := stubMetrics{
		"gpt-4o-mini": {
			ModelID:           "gpt-4o-mini",
			TotalRequests:     100,
			SuccessCount:      40,
			FailureCount:      60,
			AvgResponseTime:   0.5,
			QualityScore:      0.9,
			AvailabilityScore: 0.4,
			ErrorRate:         0.6,
		},
	}

	recClean, err := New(clean).Recommend(simpleAnalysis(100), []*aiinterface.ModelDescriptor{cheapFastModel()}, PriorityBalanced)
	require.NoError(t, err)
	recFlaky, err := New(flaky).Recommend(simpleAnalysis(100), []*aiinterface.ModelDescriptor{cheapFastModel()}, PriorityBalanced)
	require.NoError(t, err)

	assert.Greater(t, recClean.Score, recFlaky.Score)
}

func TestScoreUnknownPriorityFallsBackToBalanced(t *testing.T) {
	s := New(stubMetrics{})
	candidates := []*aiinterface.ModelDescriptor{cheapFastModel()}

	balanced, err := s.Recommend(simpleAnalysis(100), candidates, PriorityBalanced)
	require.NoError(t, err)
	unknown, err := s.Recommend(simpleAnalysis(100), candidates, Priority("nonsense"))
	require.NoError(t, err)

	assert.Equal(t, balanced.Score, unknown.Score)
}

func TestScoreEstimates(t *testing.T) {
	s := New(stubMetrics{})

	rec, err := s.Recommend(simpleAnalysis(1000), []*aiinterface.ModelDescriptor{expensivePremiumModel()}, PriorityBalanced)
	require.NoError(t, err)
	// 1000 token 输入 + 1000 token 输出
	assert.InDelta(t, 0.0125, rec.EstimatedCost, 1e-9)
	assert.Greater(t, rec.EstimatedResponseTime, 0.0)
	assert.NotEmpty(t, rec.Reasoning)
}
