package util

// EditDistance returns the Levenshtein distance between s1 and s2: the number
// of single-base insertions, deletions and substitutions needed to transform
// one into the other. Unlike barcode matching, the two sequences may have
// different lengths.
//
// Memory use is O(min(len(s1), len(s2))).
func EditDistance(s1, s2 string) int {
	if len(s1) < len(s2) {
		s1, s2 = s2, s1
	}
	if len(s2) == 0 {
		return len(s1)
	}
	prev := make([]int, len(s2)+1)
	cur := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		cur[0] = i
		for j := 1; j <= len(s2); j++ {
			if s1[i-1] == s2[j-1] {
				cur[j] = prev[j-1]
				continue
			}
			v := prev[j-1] // substitution
			if prev[j] < v {
				v = prev[j] // deletion
			}
			if cur[j-1] < v {
				v = cur[j-1] // insertion
			}
			cur[j] = v + 1
		}
		prev, cur = cur, prev
	}
	return prev[len(s2)]
}

// Identity returns 1 - EditDistance(s1, s2)/max(len(s1), len(s2)), a value in
// [0, 1]. Two empty sequences are identical.
func Identity(s1, s2 string) float64 {
	n := len(s1)
	if len(s2) > n {
		n = len(s2)
	}
	if n == 0 {
		return 1
	}
	return 1 - float64(EditDistance(s1, s2))/float64(n)
}
