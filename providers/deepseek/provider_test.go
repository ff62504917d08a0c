package deepseek

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
	return New(providers.DeepSeekConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, zap.NewNop())
}

func chatBody(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestModerateTextAllCategories(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		assert.Contains(t, req.Messages[0].Content, "toxicity")
		assert.Contains(t, req.Messages[0].Content, "misinformation")

		json.NewEncoder(w).Encode(chatBody(`{
			"toxicity": {"score": 0.9, "explanation": "Contains threats."},
			"bias": {"score": 0.1, "explanation": "No bias detected."},
			"misinformation": {"score": 0.75, "explanation": "Repeats a debunked claim."}
		}`))
	})

	results, err := p.ModerateText(context.Background(), "bad text", moderation.DefaultSettings())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[moderation.CategoryToxicity].Flagged)
	assert.InDelta(t, 0.9, results[moderation.CategoryToxicity].Score, 1e-9)
	assert.False(t, results[moderation.CategoryBias].Flagged)
	assert.True(t, results[moderation.CategoryMisinformation].Flagged)
	require.NotNil(t, results[moderation.CategoryMisinformation].Explanation)
	assert.Equal(t, "Repeats a debunked claim.", *results[moderation.CategoryMisinformation].Explanation)
}

func TestModerateTextOnlyEnabledCategories(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotContains(t, req.Messages[0].Content, "misinformation")
		json.NewEncoder(w).Encode(chatBody(`{"toxicity": {"score": 0.2, "explanation": ""}}`))
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryToxicity}

	results, err := p.ModerateText(context.Background(), "text", set)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[moderation.CategoryToxicity].Flagged)
	assert.Nil(t, results[moderation.CategoryToxicity].Explanation)
}

func TestModerateTextNoTextCategoriesEnabled(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no upstream call expected when no text category is enabled")
	})

	set := moderation.DefaultSettings()
	set.EnabledCategories = []string{moderation.CategoryAdult}

	results, err := p.ModerateText(context.Background(), "text", set)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestModerateTextRegexFallback(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatBody(
			"Sure, here is the analysis:\n{\"toxicity\": {\"score\": 0.95, \"explanation\": \"Severe harassment.\"}, \"bias\": {\"score\": 0}, \"misinformation\": {\"score\": 0}}"))
	})

	results, err := p.ModerateText(context.Background(), "text", moderation.DefaultSettings())
	require.NoError(t, err)
	assert.True(t, results[moderation.CategoryToxicity].Flagged)
	assert.InDelta(t, 0.95, results[moderation.CategoryToxicity].Score, 1e-9)
}

func TestModerateTextUnparseableOutput(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatBody("I cannot help with that."))
	})

	_, err := p.ModerateText(context.Background(), "text", moderation.DefaultSettings())
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderError, types.GetErrorCode(err))
}

func TestModerateTextUpstreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := p.ModerateText(context.Background(), "text", moderation.DefaultSettings())
	require.Error(t, err)

	var apiErr *types.Error
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, "deepseek", apiErr.Provider)
}

func TestNewDefaults(t *testing.T) {
	p := New(providers.DeepSeekConfig{APIKey: "k"}, zap.NewNop())
	assert.Equal(t, "https://api.deepseek.com", p.cfg.BaseURL)
	assert.Equal(t, "deepseek-chat", p.cfg.Model)
	assert.Equal(t, "deepseek", p.Name())
}
