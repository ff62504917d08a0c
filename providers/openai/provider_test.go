package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/contentguard/moderation"
	"github.com/BaSui01/contentguard/providers"
	"github.com/BaSui01/contentguard/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(providers.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, zap.NewNop())
}

func moderationBody(scores map[string]float64, flags map[string]bool) map[string]interface{} {
	return map[string]interface{}{
		"results": []map[string]interface{}{
			{
				"flagged":         false,
				"categories":      flags,
				"category_scores": scores,
			},
		},
	}
}

func TestModerateTextToxicityMaxSubscore(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/moderations", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(moderationBody(map[string]float64{
			"harassment": 0.2,
			"hate":       0.1,
			"self-harm":  0.05,
			"sexual":     0.85,
			"violence":   0.3,
		}, map[string]bool{"sexual": true}))
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryToxicity}

	results, err := p.ModerateText(context.Background(), "some text", set)
	require.NoError(t, err)

	tox, ok := results[moderation.CategoryToxicity]
	require.True(t, ok)
	assert.True(t, tox.Flagged)
	assert.InDelta(t, 0.85, tox.Score, 1e-9)
	require.NotNil(t, tox.Explanation)
	assert.Contains(t, *tox.Explanation, "sexual content")
}

func TestModerateTextToxicityBoundary(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(moderationBody(map[string]float64{
			"harassment": 0.7,
		}, map[string]bool{}))
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryToxicity}

	results, err := p.ModerateText(context.Background(), "borderline", set)
	require.NoError(t, err)
	// 阈值命中是闭区间：score == threshold 也标记
	assert.True(t, results[moderation.CategoryToxicity].Flagged)
}

func TestModerateTextBiasUsesHateScore(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(moderationBody(map[string]float64{
			"hate":       0.9,
			"harassment": 0.1,
		}, map[string]bool{}))
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryBias}

	results, err := p.ModerateText(context.Background(), "biased text", set)
	require.NoError(t, err)

	bias := results[moderation.CategoryBias]
	assert.True(t, bias.Flagged)
	assert.InDelta(t, 0.9, bias.Score, 1e-9)
	require.NotNil(t, bias.Explanation)

	_, hasTox := results[moderation.CategoryToxicity]
	assert.False(t, hasTox, "disabled categories must not be computed")
}

func TestModerateTextMisinformationFactCheck(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.InDelta(t, 0.1, float64(req.Temperature), 1e-6)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]string{
						"role":    "assistant",
						"content": `{"score": 0.8, "explanation": "Contains a debunked claim."}`,
					}},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryMisinformation}

	results, err := p.ModerateText(context.Background(), "the moon is cheese", set)
	require.NoError(t, err)

	mis := results[moderation.CategoryMisinformation]
	assert.True(t, mis.Flagged)
	assert.InDelta(t, 0.8, mis.Score, 1e-9)
	require.NotNil(t, mis.Explanation)
	assert.Equal(t, "Contains a debunked claim.", *mis.Explanation)
}

func TestModerateTextMisinformationRegexFallback(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{
					"role":    "assistant",
					"content": "Here is my analysis:\n{\"score\": 0.2, \"explanation\": \"Mostly accurate.\"}\nThanks!",
				}},
			},
		})
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryMisinformation}

	results, err := p.ModerateText(context.Background(), "text", set)
	require.NoError(t, err)

	mis := results[moderation.CategoryMisinformation]
	assert.False(t, mis.Flagged)
	assert.InDelta(t, 0.2, mis.Score, 1e-9)
}

func TestModerateTextMisinformationFailureFallsBack(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryMisinformation}

	results, err := p.ModerateText(context.Background(), "text", set)
	require.NoError(t, err, "fact-check failure must not fail the moderation call")

	mis := results[moderation.CategoryMisinformation]
	assert.False(t, mis.Flagged)
	assert.InDelta(t, 0.3, mis.Score, 1e-9)
	assert.Nil(t, mis.Explanation, "unflagged categories carry no explanation")
}

func TestModerateTextMisinformationFallbackExplanationWhenFlagged(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// 阈值低于兜底分值时兜底结果被标记，解释随之附带
	set := moderation.DefaultSettings()
	set.MisinformationThreshold = 0.2
	set.EnabledCategories = []string{moderation.CategoryMisinformation}

	results, err := p.ModerateText(context.Background(), "text", set)
	require.NoError(t, err)

	mis := results[moderation.CategoryMisinformation]
	assert.True(t, mis.Flagged)
	require.NotNil(t, mis.Explanation)
	assert.Equal(t, "Unable to analyze for misinformation.", *mis.Explanation)
}

func TestModerateTextToxicityNoExplanationBelowThreshold(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		// 子类目被上游点名但分值不过线：不标记也不附带解释
		json.NewEncoder(w).Encode(moderationBody(map[string]float64{
			"harassment": 0.4,
		}, map[string]bool{"harassment": true}))
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryToxicity}

	results, err := p.ModerateText(context.Background(), "text", set)
	require.NoError(t, err)

	tox := results[moderation.CategoryToxicity]
	assert.False(t, tox.Flagged)
	assert.Nil(t, tox.Explanation)
}

func TestModerateTextUpstreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited"}`))
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryToxicity}

	_, err := p.ModerateText(context.Background(), "text", set)
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderError, types.GetErrorCode(err))

	var apiErr *types.Error
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, "openai", apiErr.Provider)
}

func TestNewDefaults(t *testing.T) {
	p := New(providers.OpenAIConfig{APIKey: "k"}, zap.NewNop())
	assert.Equal(t, "https://api.openai.com/v1", p.cfg.BaseURL)
	assert.Equal(t, "omni-moderation-latest", p.cfg.Model)
	assert.Equal(t, "gpt-3.5-turbo", p.cfg.FactCheckModel)
	assert.Equal(t, "openai", p.Name())
}
