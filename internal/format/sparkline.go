package format

import "strings"

var sparkBars = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders counts as one bar glyph each, scaled to the largest value.
func Sparkline(counts []int) string {
	top := 0
	for _, c := range counts {
		if c > top {
			top = c
		}
	}
	var b strings.Builder
	for _, c := range counts {
		if c <= 0 || top == 0 {
			b.WriteRune(sparkBars[0])
			continue
		}
		b.WriteRune(sparkBars[(c*(len(sparkBars)-1)+top-1)/top])
	}
	return b.String()
}
