package textutil

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed synonyms.yaml
var defaultSynonymsYAML []byte

// Synonyms holds technical synonym groups. A token belongs to a group when
// it shares a stem with any member. Safe for concurrent reads.
type Synonyms struct {
	groups    [][]string
	wallWords []string
}

type synonymsFile struct {
	Synonyms struct {
		WallWords []string   `yaml:"wall_words"`
		Groups    [][]string `yaml:"groups"`
	} `yaml:"synonyms"`
}

// DefaultSynonyms returns the embedded Spanish/English construction dictionary.
func DefaultSynonyms() *Synonyms {
	s, err := ParseSynonyms(defaultSynonymsYAML)
	if err != nil {
		panic(err) // embedded file is validated by tests
	}
	return s
}

// LoadSynonyms reads a synonyms dictionary from a YAML file.
func LoadSynonyms(path string) (*Synonyms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "textutil: read synonyms %s", path)
	}
	return ParseSynonyms(data)
}

// ParseSynonyms parses a YAML synonyms document. Entries are normalized so
// accents and case in the file do not matter.
func ParseSynonyms(data []byte) (*Synonyms, error) {
	var f synonymsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "textutil: parse synonyms")
	}
	if len(f.Synonyms.Groups) == 0 {
		return nil, eris.New("textutil: synonyms file has no groups")
	}

	s := &Synonyms{}
	for _, g := range f.Synonyms.Groups {
		var group []string
		for _, w := range g {
			if n := Normalize(w); n != "" {
				group = append(group, n)
			}
		}
		if len(group) > 1 {
			s.groups = append(s.groups, group)
		}
	}
	for _, w := range f.Synonyms.WallWords {
		if n := Normalize(w); n != "" {
			s.wallWords = append(s.wallWords, n)
		}
	}
	return s, nil
}

// Related reports whether tokens a and b are the same word, inflections of
// each other, or members of one synonym group.
func (s *Synonyms) Related(a, b string) bool {
	if SameStem(a, b) {
		return true
	}
	if s == nil {
		return false
	}
	for _, g := range s.groups {
		if inGroup(g, a) && inGroup(g, b) {
			return true
		}
	}
	return false
}

// WallLike reports whether any token describes a wall-style surface whose
// area may be derived from a length layer.
func (s *Synonyms) WallLike(tokens []string) bool {
	if s == nil {
		return false
	}
	for _, t := range tokens {
		if inGroup(s.wallWords, t) {
			return true
		}
	}
	return false
}

// Groups returns the number of synonym groups loaded.
func (s *Synonyms) Groups() int {
	if s == nil {
		return 0
	}
	return len(s.groups)
}

func inGroup(group []string, token string) bool {
	for _, m := range group {
		if SameStem(m, token) {
			return true
		}
	}
	return false
}
