package embedding

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dictionary file names looked up under the configured dictionary directory.
const (
	punctuationDictFile = "punctuation.yaml"
	numbersDictFile     = "numbers.yaml"
	domainsDictFile     = "domains.yaml"
)

// Normalizer reduces a question to its canonical "gist": lowercase,
// disfluencies stripped, and (when expansion is enabled) symbols, digits and
// domain shorthand expanded to words via three dictionary maps. The gist is
// the stable cache key for question embeddings.
type Normalizer struct {
	punctuation map[string]string
	numbers     map[string]string
	domains     []phrasePair
	expand      bool
}

// phrasePair is one domain replacement, longest phrases applied first.
type phrasePair struct {
	from string
	to   string
}

// disfluencies are filler tokens removed from every gist.
var disfluencies = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhh": true,
	"er": true, "erm": true, "ah": true, "ahh": true,
	"hmm": true, "hm": true, "mmm": true,
}

// NewNormalizer loads the three dictionary maps from dictDir. A missing file
// falls back to the built-in defaults; a file that fails to parse is an
// error. When expand is false the maps are still loaded but only disfluency
// stripping and case folding are applied.
func NewNormalizer(dictDir string, expand bool) (*Normalizer, error) {
	punct, err := loadDict(filepath.Join(dictDir, punctuationDictFile), defaultPunctuation())
	if err != nil {
		return nil, err
	}
	nums, err := loadDict(filepath.Join(dictDir, numbersDictFile), defaultNumbers())
	if err != nil {
		return nil, err
	}
	doms, err := loadDict(filepath.Join(dictDir, domainsDictFile), defaultDomains())
	if err != nil {
		return nil, err
	}

	pairs := make([]phrasePair, 0, len(doms))
	for from, to := range doms {
		pairs = append(pairs, phrasePair{from: strings.ToLower(from), to: strings.ToLower(to)})
	}
	// Longest match first so "deep research" wins over "research".
	sort.Slice(pairs, func(i, j int) bool { return len(pairs[i].from) > len(pairs[j].from) })

	return &Normalizer{punctuation: punct, numbers: nums, domains: pairs, expand: expand}, nil
}

// Gist returns the canonical form of text.
func (n *Normalizer) Gist(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return ""
	}

	if n.expand {
		for _, p := range n.domains {
			s = strings.ReplaceAll(s, p.from, p.to)
		}
		for sym, word := range n.punctuation {
			s = strings.ReplaceAll(s, sym, " "+word+" ")
		}
	}

	// Any remaining punctuation separates tokens rather than joining them.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		if disfluencies[f] {
			continue
		}
		if n.expand {
			if word, ok := n.numbers[f]; ok {
				f = word
			}
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func loadDict(path string, defaults map[string]string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	m := make(map[string]string)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse dictionary %s: %w", path, err)
	}
	return m, nil
}

func defaultPunctuation() map[string]string {
	return map[string]string{
		"+": "plus",
		"*": "times",
		"/": "divided by",
		"=": "equals",
		"%": "percent",
		"&": "and",
		"@": "at",
		"#": "number",
	}
}

func defaultNumbers() map[string]string {
	return map[string]string{
		"0": "zero", "1": "one", "2": "two", "3": "three", "4": "four",
		"5": "five", "6": "six", "7": "seven", "8": "eight", "9": "nine",
		"10": "ten", "11": "eleven", "12": "twelve", "100": "one hundred",
		"1000": "one thousand",
	}
}

func defaultDomains() map[string]string {
	return map[string]string{
		"df":    "dataframe",
		"calc":  "calculate",
		"temp":  "temperature",
		"appt":  "appointment",
		"appts": "appointments",
	}
}
