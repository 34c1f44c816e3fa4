package flow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is one catalog category and the user-facing words that map to it.
type Category struct {
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
}

// Vocabulary is the category lexicon driving the text heuristic. It is data,
// not code: stores override the built-in set with a YAML file.
type Vocabulary struct {
	Categories []Category `yaml:"categories"`

	// term (lowercase) -> canonical category name
	index map[string]string
}

type vocabularyFile struct {
	Categories []Category `yaml:"categories"`
}

// DefaultVocabulary returns the built-in category set.
func DefaultVocabulary() *Vocabulary {
	v := &Vocabulary{
		Categories: []Category{
			{Name: "phones", Synonyms: []string{"phone", "smartphone", "smartphones", "iphone", "android", "mobile"}},
			{Name: "laptops", Synonyms: []string{"laptop", "notebook", "notebooks", "macbook", "ultrabook"}},
			{Name: "accessories", Synonyms: []string{"accessory", "charger", "chargers", "cable", "cables", "headphones", "earbuds", "case", "cases"}},
			{Name: "furniture", Synonyms: []string{"sofa", "couch", "desk", "chair", "chairs", "table", "tables", "bed", "shelf"}},
			{Name: "shoes", Synonyms: []string{"shoe", "sneakers", "boots", "sandals", "trainers", "heels"}},
			{Name: "clothes", Synonyms: []string{"clothing", "shirt", "shirts", "t-shirt", "dress", "dresses", "jeans", "jacket", "jackets", "pants"}},
		},
	}
	v.buildIndex()
	return v
}

// LoadVocabulary reads a category lexicon from a YAML file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read vocabulary file %s: %w", path, err)
	}

	var vf vocabularyFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("cannot parse vocabulary file %s: %w", path, err)
	}
	if len(vf.Categories) == 0 {
		return nil, fmt.Errorf("vocabulary file %s defines no categories", path)
	}

	v := &Vocabulary{Categories: vf.Categories}
	v.buildIndex()
	return v, nil
}

func (v *Vocabulary) buildIndex() {
	v.index = make(map[string]string)
	for _, c := range v.Categories {
		v.index[strings.ToLower(c.Name)] = c.Name
		for _, syn := range c.Synonyms {
			v.index[strings.ToLower(syn)] = c.Name
		}
	}
}

// Match returns the canonical category mentioned in the text, if any. Terms
// are matched on word boundaries so "smartphones" does not trip on "art".
func (v *Vocabulary) Match(text string) (string, bool) {
	for _, word := range tokenize(text) {
		if cat, ok := v.index[word]; ok {
			return cat, true
		}
	}
	return "", false
}

// MatchTerm reports whether a single search term names a known category.
func (v *Vocabulary) MatchTerm(term string) (string, bool) {
	cat, ok := v.index[strings.ToLower(strings.TrimSpace(term))]
	return cat, ok
}

// CategoryNames returns the canonical category names in declaration order.
func (v *Vocabulary) CategoryNames() []string {
	names := make([]string, 0, len(v.Categories))
	for _, c := range v.Categories {
		names = append(names, c.Name)
	}
	return names
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return false
		}
		return true
	})
}
