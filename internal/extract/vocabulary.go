package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServiceTerm maps a word users type to the catalogue category it stands for.
type ServiceTerm struct {
	Term     string `yaml:"term"`
	Category string `yaml:"category"`
}

// Vocabulary is the set of word lists driving rule-based extraction and routing.
type Vocabulary struct {
	Locations        []string      `yaml:"locations"`
	Services         []ServiceTerm `yaml:"services"`
	TimeKeywords     []string      `yaml:"time_keywords"`
	StopWords        []string      `yaml:"stop_words"`
	ServiceKeywords  []string      `yaml:"service_keywords"`
	BusinessKeywords []string      `yaml:"business_keywords"`
	UrgencyWords     []string      `yaml:"urgency_words"`
	QualityWords     []string      `yaml:"quality_words"`

	stop map[string]struct{}
}

// DefaultVocabulary returns the built-in word lists.
func DefaultVocabulary() *Vocabulary {
	v := &Vocabulary{
		Locations: []string{
			"colombo", "kandy", "galle", "jaffna", "negombo",
			"anuradhapura", "trincomalee", "batticaloa", "matara",
			"gampaha", "kurunegala", "ratnapura", "badulla", "nuwara eliya",
		},
		Services: []ServiceTerm{
			{"plumber", "Plumbing"}, {"plumbing", "Plumbing"},
			{"electrician", "Electrical"}, {"electrical", "Electrical"},
			{"carpenter", "Carpentry"}, {"carpentry", "Carpentry"},
			{"painter", "Painting"}, {"painting", "Painting"},
			{"cleaner", "Cleaning"}, {"cleaning", "Cleaning"},
			{"gardener", "Gardening"}, {"gardening", "Gardening"},
			{"mechanic", "Mechanic"},
			{"catering", "Catering"},
			{"photographer", "Photography"}, {"photography", "Photography"},
			{"tuition", "Tuition"}, {"tutor", "Tuition"},
		},
		TimeKeywords: []string{"today", "tomorrow", "weekend", "urgent", "emergency", "asap"},
		StopWords: []string{
			"i", "me", "my", "myself", "we", "our", "ours", "ourselves",
			"you", "your", "yours", "yourself", "yourselves",
			"he", "him", "his", "himself", "she", "her", "hers", "herself",
			"it", "its", "itself", "they", "them", "their", "theirs", "themselves",
			"what", "which", "who", "whom", "this", "that", "these", "those",
			"am", "is", "are", "was", "were", "be", "been", "being",
			"have", "has", "had", "having", "do", "does", "did", "doing",
			"a", "an", "the", "and", "but", "if", "or", "because",
			"as", "until", "while", "of", "at", "by", "for", "with",
			"about", "against", "between", "into", "through", "during",
			"before", "after", "above", "below", "to", "from", "up", "down",
			"in", "out", "on", "off", "over", "under", "again", "further",
			"then", "once", "here", "there", "when", "where", "why", "how",
			"all", "both", "each", "few", "more", "most", "other", "some",
			"such", "no", "nor", "not", "only", "own", "same", "so",
			"than", "too", "very", "can", "will", "just", "should", "now",
		},
		ServiceKeywords: []string{
			"find", "looking for", "need", "want", "search",
			"plumber", "electrician", "carpenter", "painter",
			"service", "help with", "repair", "fix",
		},
		BusinessKeywords: []string{
			"business", "analytics", "performance", "customers",
			"bookings", "revenue", "my services", "dashboard",
			"inquiries", "manage", "pricing",
		},
		UrgencyWords: []string{"urgent", "emergency", "asap", "today", "now", "quickly", "immediately"},
		QualityWords: []string{"best", "experienced", "certified", "professional", "expert", "reliable"},
	}
	v.index()
	return v
}

// LoadVocabulary reads a YAML vocabulary file. Lists left empty in the file
// keep their built-in values.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes YAML on top of the defaults.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var override Vocabulary
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	v := DefaultVocabulary()
	if len(override.Locations) > 0 {
		v.Locations = override.Locations
	}
	if len(override.Services) > 0 {
		v.Services = override.Services
	}
	if len(override.TimeKeywords) > 0 {
		v.TimeKeywords = override.TimeKeywords
	}
	if len(override.StopWords) > 0 {
		v.StopWords = override.StopWords
	}
	if len(override.ServiceKeywords) > 0 {
		v.ServiceKeywords = override.ServiceKeywords
	}
	if len(override.BusinessKeywords) > 0 {
		v.BusinessKeywords = override.BusinessKeywords
	}
	if len(override.UrgencyWords) > 0 {
		v.UrgencyWords = override.UrgencyWords
	}
	if len(override.QualityWords) > 0 {
		v.QualityWords = override.QualityWords
	}
	v.index()
	return v, nil
}

func (v *Vocabulary) index() {
	v.stop = make(map[string]struct{}, len(v.StopWords))
	for _, w := range v.StopWords {
		v.stop[w] = struct{}{}
	}
}

// IsStopWord reports whether w is in the stop list.
func (v *Vocabulary) IsStopWord(w string) bool {
	_, ok := v.stop[w]
	return ok
}

// CategoryFor returns the catalogue category for a service term or entity.
func (v *Vocabulary) CategoryFor(service string) (string, bool) {
	for _, st := range v.Services {
		if equalFold(st.Term, service) || equalFold(st.Category, service) {
			return st.Category, true
		}
	}
	return "", false
}
