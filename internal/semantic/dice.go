package semantic

// Dice is the Sørensen–Dice coefficient over the rune bigrams of a and b. Inputs are
// compared as given; callers normalize first.
//
// Two empty strings score 1. Strings too short to have a bigram score 1 when equal and 0
// otherwise.
func Dice(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}

	counts := make(map[[2]rune]int, len(ra)-1)
	for i := 0; i < len(ra)-1; i++ {
		counts[[2]rune{ra[i], ra[i+1]}]++
	}

	shared := 0
	for i := 0; i < len(rb)-1; i++ {
		k := [2]rune{rb[i], rb[i+1]}
		if counts[k] > 0 {
			counts[k]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ra)-1+len(rb)-1)
}
