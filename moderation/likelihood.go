package moderation

// Likelihood 是图像安全搜索的五级序数标签。
type Likelihood string

const (
	VeryUnlikely Likelihood = "VERY_UNLIKELY"
	Unlikely     Likelihood = "UNLIKELY"
	Possible     Likelihood = "POSSIBLE"
	Likely       Likelihood = "LIKELY"
	VeryLikely   Likelihood = "VERY_LIKELY"
)

// likelihoodRanks 五级标签到整数等级的映射（VERY_UNLIKELY=1 … VERY_LIKELY=5）。
var likelihoodRanks = map[Likelihood]int{
	VeryUnlikely: 1,
	Unlikely:     2,
	Possible:     3,
	Likely:       4,
	VeryLikely:   5,
}

// Rank returns the integer rank 1..5 of the likelihood, or 0 for an unknown
// label (providers occasionally return "UNKNOWN").
func (l Likelihood) Rank() int {
	return likelihoodRanks[l]
}

// Score normalizes the likelihood rank to [0,1] for uniform downstream
// consumption. The flag decision compares ranks, never this value.
func (l Likelihood) Score() float64 {
	return float64(l.Rank()) / 5
}

// Valid reports whether the label is one of the five known levels.
func (l Likelihood) Valid() bool {
	return l.Rank() != 0
}

// ParseLikelihood 解析序数标签；未知标签返回 (“”, false)。
func ParseLikelihood(s string) (Likelihood, bool) {
	l := Likelihood(s)
	if l.Valid() {
		return l, true
	}
	return "", false
}

// LikelihoodFrom 是 ParseLikelihood 的宽松版本：未知标签原样返回，
// 其 Rank 为 0，永远不会达到任何阈值。校验路径用 ParseLikelihood。
func LikelihoodFrom(s string) Likelihood {
	return Likelihood(s)
}
