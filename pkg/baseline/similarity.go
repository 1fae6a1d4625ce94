// SPDX-License-Identifier: Apache-2.0

package baseline

// ratio computes a Ratcliff/Obershelp-style similarity ratio in [0, 1]:
// twice the total length of the longest matching blocks found
// recursively, divided by the combined length of both strings. Two
// identical strings score 1.0; two strings with nothing in common
// score 0.0.
//
// No library in the reference corpus implements Python's difflib
// SequenceMatcher ratio (edit-distance libraries like Levenshtein give
// a materially different, lower score for the same inputs — an
// appended suffix costs len(suffix) under edit distance but costs
// nothing under matching-blocks), so this is written directly.
func ratio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	m := matchingBlockLength(a, b)
	return 2 * float64(m) / float64(len(a)+len(b))
}

func matchingBlockLength(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingBlockLength(a[:ai], b[:bi]) +
		matchingBlockLength(a[ai+size:], b[bi+size:])
}

// longestCommonSubstring returns the start offsets in a and b, and the
// length, of their longest common contiguous substring. Classic O(n*m)
// dynamic programming; schema snapshots are small enough (tens of KB
// at most) that the quadratic cost is not a practical concern.
func longestCommonSubstring(a, b string) (aStart, bStart, length int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > length {
					length = curr[j]
					aStart = i - length
					bStart = j - length
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return aStart, bStart, length
}
