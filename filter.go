package platemate

import "strings"

// Lines containing any of these (case-insensitive) are removed from model
// output.
var negativeMarkers = []string{"cannot", "sorry"}

// FilterNegativeLines drops every line of text that contains "cannot" or
// "sorry" in any letter case. The remaining lines are joined with "\n".
func FilterNegativeLines(text string) string {
	var kept []string
	for line := range strings.SplitSeq(text, "\n") {
		lower := strings.ToLower(line)
		drop := false
		for _, m := range negativeMarkers {
			if strings.Contains(lower, m) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, line)
		}
	}

	return strings.Join(kept, "\n")
}
