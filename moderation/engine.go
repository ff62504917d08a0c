package moderation

// =============================================================================
// 🎯 判定核心
// =============================================================================

// EvaluateScore 数值类目判定：score >= threshold 即标记（闭区间，相等也标记）。
func EvaluateScore(score, threshold float64) bool {
	return score >= threshold
}

// EvaluateLikelihood 序数类目判定：rank(observed) >= rank(threshold) 即标记。
func EvaluateLikelihood(observed, threshold Likelihood) bool {
	return observed.Rank() >= threshold.Rank()
}

// ScoreResult builds the CategoryResult for a numeric-score category.
// explanation 仅在标记时附带：未标记或上游无信号时保持为 null。
func ScoreResult(score, threshold float64, explanation *string) CategoryResult {
	r := CategoryResult{
		Flagged: EvaluateScore(score, threshold),
		Score:   score,
	}
	if r.Flagged {
		r.Explanation = explanation
	}
	return r
}

// LikelihoodResult builds the CategoryResult for an ordinal category. The
// normalized score is rank/5; the flag decision compares ranks.
func LikelihoodResult(observed, threshold Likelihood) CategoryResult {
	return CategoryResult{
		Flagged:    EvaluateLikelihood(observed, threshold),
		Score:      observed.Score(),
		Likelihood: observed,
	}
}

// Overall 整体判定：对所有已计算类目的 flagged 取逻辑或。
// 空集返回 false（未启用任何类目时提交不被标记）。
func Overall(results map[string]CategoryResult) bool {
	for _, r := range results {
		if r.Flagged {
			return true
		}
	}
	return false
}
