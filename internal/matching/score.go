package matching

// Similarity normalises a good-match count by the smaller descriptor set. The
// count is clamped so the result stays in [0, 1] even when several query
// descriptors landed on the same candidate descriptor.
func Similarity(good, queryLen, candidateLen int) float64 {
	smaller := min(queryLen, candidateLen)
	if smaller <= 0 || good <= 0 {
		return 0
	}
	return float64(min(good, smaller)) / float64(smaller)
}
