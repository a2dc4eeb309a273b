package analytics

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// italianStopWords are filler words skipped when extracting anchor words.
var italianStopWords = map[string]struct{}{
	"il": {}, "la": {}, "lo": {}, "i": {}, "le": {}, "gli": {}, "un": {}, "una": {}, "uno": {},
	"di": {}, "a": {}, "da": {}, "in": {}, "con": {}, "su": {}, "per": {}, "tra": {}, "fra": {},
	"e": {}, "o": {}, "ma": {}, "se": {}, "che": {}, "non": {}, "mi": {}, "ti": {}, "ci": {}, "vi": {},
	"è": {}, "sono": {}, "ha": {}, "ho": {}, "si": {}, "sì": {}, "no": {}, "come": {}, "cosa": {},
	"del": {}, "della": {}, "dei": {}, "delle": {}, "al": {}, "alla": {}, "ai": {}, "alle": {},
}

// maxAnchorWords caps the anchor word list per text.
const maxAnchorWords = 5

// NormalizeText lowercases, strips punctuation, and collapses whitespace so
// similarity comparisons ignore surface differences.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity returns a [0,1] score for two texts after normalization,
// derived from the Levenshtein distance relative to the longer text.
// Two empty texts score 0.
func Similarity(a, b string) float64 {
	na, nb := NormalizeText(a), NormalizeText(b)
	longest := max(len(na), len(nb))
	if longest == 0 {
		return 0
	}
	dist := matchr.Levenshtein(na, nb)
	score := 1 - float64(dist)/float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

// MaxSimilarity returns the highest similarity between text and any of the
// candidates.
func MaxSimilarity(text string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if s := Similarity(text, c); s > best {
			best = s
		}
	}
	return best
}

// AnchorWords extracts up to five significant words for quick scanning in
// the dashboard: stop words and single characters are skipped, punctuation
// is stripped.
func AnchorWords(text string) []string {
	var anchors []string
	for _, word := range strings.Fields(text) {
		clean := stripNonWord(word)
		if len([]rune(clean)) < 2 {
			continue
		}
		if _, stop := italianStopWords[strings.ToLower(clean)]; stop {
			continue
		}
		anchors = append(anchors, clean)
		if len(anchors) == maxAnchorWords {
			break
		}
	}
	return anchors
}

func stripNonWord(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
