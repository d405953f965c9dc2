// Package safety tags text with the hazard categories that should make the
// assistant point users to a certified technician.
package safety

import (
	"regexp"
	"sort"
	"strings"
)

type Category string

const (
	HighVoltage         Category = "high_voltage"
	Gas                 Category = "gas"
	InternalElectronics Category = "internal_electronics"
)

// Classifier reports which hazard categories occur in the given texts.
type Classifier interface {
	Classify(texts ...string) []Category
}

// KeywordClassifier matches whole words and phrases, case-insensitively.
type KeywordClassifier struct {
	patterns map[Category]*regexp.Regexp
}

var defaultKeywords = map[Category][]string{
	HighVoltage: {
		"high voltage", "rewire", "rewiring", "wiring", "live wire", "mains", "electrical panel",
		"compressor", "capacitor", "short circuit", "electric shock", "sparks", "sparking",
	},
	Gas: {
		"gas", "gas leak", "gas line", "gas connection", "refrigerant", "burner", "lpg", "propane",
	},
	InternalElectronics: {
		"control board", "circuit board", "pcb", "motherboard", "internal electronics",
		"inverter board", "power supply board", "open the back panel", "solder",
	},
}

func NewKeywordClassifier() *KeywordClassifier {
	return NewKeywordClassifierWith(defaultKeywords)
}

func NewKeywordClassifierWith(keywords map[Category][]string) *KeywordClassifier {
	c := &KeywordClassifier{patterns: map[Category]*regexp.Regexp{}}
	for cat, words := range keywords {
		quoted := make([]string, 0, len(words))
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`))
		}
		if len(quoted) == 0 {
			continue
		}
		c.patterns[cat] = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return c
}

func (c *KeywordClassifier) Classify(texts ...string) []Category {
	var out []Category
	for cat, re := range c.patterns {
		for _, t := range texts {
			if re.MatchString(t) {
				out = append(out, cat)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
