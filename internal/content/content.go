// Package content loads the portfolio copy and the ordered section list.
package content

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed portfolio.yaml
var defaultPortfolio []byte

// Section is one navigable region of the page, in document order.
type Section struct {
	ID    string `yaml:"id" validate:"required,excludesall=#"`
	Label string `yaml:"label" validate:"required"`
	// Hidden sections appear in the navigation but are not rendered.
	Hidden bool `yaml:"hidden"`
}

type Hero struct {
	Title    string   `yaml:"title"`
	Subtitle string   `yaml:"subtitle"`
	Intro    []string `yaml:"intro"`
}

type Experience struct {
	ID       string   `yaml:"id" validate:"required"`
	Year     string   `yaml:"year"`
	Title    string   `yaml:"title" validate:"required"`
	Company  string   `yaml:"company"`
	Location string   `yaml:"location"`
	Role     string   `yaml:"role"`
	Bullets  []string `yaml:"bullets"`
}

type Project struct {
	Title       string   `yaml:"title" validate:"required"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Link        string   `yaml:"link" validate:"omitempty,url"`
}

type SkillGroup struct {
	ID    string   `yaml:"id" validate:"required"`
	Title string   `yaml:"title" validate:"required"`
	Emoji string   `yaml:"emoji"`
	Items []string `yaml:"items" validate:"min=1"`
}

type Education struct {
	ID          string `yaml:"id" validate:"required"`
	Year        string `yaml:"year"`
	Title       string `yaml:"title" validate:"required"`
	Institution string `yaml:"institution"`
	Note        string `yaml:"note"`
}

type ContactLink struct {
	Href  string `yaml:"href" validate:"required"`
	Label string `yaml:"label" validate:"required"`
	Aria  string `yaml:"aria"`
}

// Portfolio is everything the page renders.
type Portfolio struct {
	Name       string        `yaml:"name" validate:"required"`
	Tagline    string        `yaml:"tagline"`
	Sections   []Section     `yaml:"sections" validate:"required,min=1,unique=ID,dive"`
	Hero       Hero          `yaml:"hero"`
	Experience []Experience  `yaml:"experience" validate:"dive"`
	Projects   []Project     `yaml:"projects" validate:"dive"`
	Skills     []SkillGroup  `yaml:"skills" validate:"dive"`
	Education  []Education   `yaml:"education" validate:"dive"`
	About      []string      `yaml:"about"`
	Contact    []ContactLink `yaml:"contact" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the portfolio from path, or the built-in copy when path is
// empty.
func Load(path string) (*Portfolio, error) {
	if path == "" {
		return Parse(defaultPortfolio)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a YAML portfolio.
func Parse(data []byte) (*Portfolio, error) {
	var p Portfolio
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid content: %w", err)
	}
	return &p, nil
}

// SectionIDs returns every navigable id in document order.
func (p *Portfolio) SectionIDs() []string {
	ids := make([]string, len(p.Sections))
	for i, s := range p.Sections {
		ids[i] = s.ID
	}
	return ids
}

// Rendered returns the sections that appear on the page.
func (p *Portfolio) Rendered() []Section {
	var out []Section
	for _, s := range p.Sections {
		if !s.Hidden {
			out = append(out, s)
		}
	}
	return out
}

// Renders reports whether the page contains a section with this id.
func (p *Portfolio) Renders(id string) bool {
	for _, s := range p.Sections {
		if s.ID == id {
			return !s.Hidden
		}
	}
	return false
}

// Document is the set of rendered section ids.
type Document map[string]bool

// Contains implements section.Document.
func (d Document) Contains(id string) bool { return d[id] }

// Document returns the rendered ids as a lookup set.
func (p *Portfolio) Document() Document {
	d := make(Document, len(p.Sections))
	for _, s := range p.Rendered() {
		d[s.ID] = true
	}
	return d
}
