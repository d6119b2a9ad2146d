package demo

import (
	_ "embed"
	"os"
	"regexp"
	"slices"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed themes.yaml
var defaultThemes []byte

// DefaultType is used when a request names no demo type.
const DefaultType = "services"

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Palette holds the page colors.
type Palette struct {
	Primary    string `yaml:"primary"`
	Accent     string `yaml:"accent"`
	Background string `yaml:"background"`
	Text       string `yaml:"text"`
}

// Theme describes one demo type.
type Theme struct {
	Label    string   `yaml:"label"`
	Palette  Palette  `yaml:"palette"`
	Sections []string `yaml:"sections"`
	CTA      string   `yaml:"cta"`
	Images   []string `yaml:"images"`
}

// Has reports whether the theme renders section.
func (t Theme) Has(section string) bool {
	return slices.Contains(t.Sections, section)
}

// Catalog maps demo types to themes.
type Catalog map[string]Theme

// LoadCatalog parses the embedded catalog, or path when set.
func LoadCatalog(path string) (Catalog, error) {
	data := defaultThemes
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "demo: read themes %s", path)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "demo: parse themes")
	}
	if len(c) == 0 {
		return nil, eris.New("demo: themes catalog is empty")
	}
	for name, t := range c {
		for _, col := range []string{t.Palette.Primary, t.Palette.Accent, t.Palette.Background, t.Palette.Text} {
			if !hexColor.MatchString(col) {
				return nil, eris.Errorf("demo: theme %s has invalid color %q", name, col)
			}
		}
		if len(t.Sections) == 0 {
			return nil, eris.Errorf("demo: theme %s has no sections", name)
		}
	}
	return c, nil
}

// Types returns the demo types in name order.
func (c Catalog) Types() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
