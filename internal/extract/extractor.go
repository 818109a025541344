// Package extract implements the rule-based entity and keyword extraction
// used when no semantic analysis is available.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kumbuk/orchestrator/internal/models"
)

const maxKeywords = 10

var (
	whitespaceRe = regexp.MustCompile(`[\s\p{Z}]+`)
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}.,!?-]`)
	priceRe      = regexp.MustCompile(`(rs\.?|rupees?)\s*(\d+)`)
)

// Extractor pulls entities and keywords out of normalized text.
// The vocabulary can be swapped at runtime.
type Extractor struct {
	vocab atomic.Pointer[Vocabulary]
}

// New creates an extractor. A nil vocabulary selects the defaults.
func New(v *Vocabulary) *Extractor {
	if v == nil {
		v = DefaultVocabulary()
	}
	x := &Extractor{}
	x.vocab.Store(v)
	return x
}

// SetVocabulary replaces the word lists for subsequent calls.
func (x *Extractor) SetVocabulary(v *Vocabulary) {
	if v != nil {
		x.vocab.Store(v)
	}
}

// Vocabulary returns the word lists currently in use.
func (x *Extractor) Vocabulary() *Vocabulary {
	return x.vocab.Load()
}

// Normalize collapses whitespace, trims, and strips characters outside
// word characters, whitespace and . , ! ? -
func Normalize(text string) string {
	cleaned := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	return disallowedRe.ReplaceAllString(cleaned, "")
}

// Entities finds locations, services, a price and time references by
// case-insensitive substring match.
func (x *Extractor) Entities(text string) models.Entities {
	v := x.vocab.Load()
	lower := strings.ToLower(text)
	out := models.NewEntities()

	for _, city := range v.Locations {
		if strings.Contains(lower, city) {
			out.Locations = append(out.Locations, TitleCase(city))
		}
	}
	for _, st := range v.Services {
		if strings.Contains(lower, st.Term) {
			out.Services = append(out.Services, TitleCase(st.Term))
		}
	}
	if m := priceRe.FindStringSubmatch(lower); m != nil {
		if amount, err := strconv.Atoi(m[2]); err == nil {
			out.PriceRange = &models.PriceRange{Amount: amount, Currency: "LKR"}
		}
	}
	for _, kw := range v.TimeKeywords {
		if strings.Contains(lower, kw) {
			out.TimeReferences = append(out.TimeReferences, kw)
		}
	}
	return out
}

// Keywords lowercases, splits on whitespace, trims surrounding punctuation,
// drops stop words and tokens of two characters or fewer, and keeps the first ten.
func (x *Extractor) Keywords(text string) []string {
	v := x.vocab.Load()
	keywords := make([]string, 0, maxKeywords)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?")
		if utf8.RuneCountInString(word) <= 2 || v.IsStopWord(word) {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// Categories maps service entities to catalogue categories, deduplicated in order.
func (x *Extractor) Categories(services []string) []string {
	v := x.vocab.Load()
	seen := make(map[string]struct{}, len(services))
	out := make([]string, 0, len(services))
	for _, s := range services {
		cat, ok := v.CategoryFor(s)
		if !ok {
			cat = TitleCase(s)
		}
		if _, dup := seen[cat]; dup {
			continue
		}
		seen[cat] = struct{}{}
		out = append(out, cat)
	}
	return out
}

// ContainsAny reports whether text contains any of the phrases.
func ContainsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// TitleCase upper-cases the first letter of every word.
// Casers keep state, so each call gets its own.
func TitleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
