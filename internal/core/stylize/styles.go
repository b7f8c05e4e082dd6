package stylize

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v2"
)

//go:embed styles.yaml
var defaultStyles []byte

var ErrInvalidStyle = errors.New("Invalid style")

type Style struct {
	Name         string `yaml:"name" json:"name"`
	Title        string `yaml:"title" json:"title"`
	SystemPrompt string `yaml:"system_prompt" json:"-"`
	UserPrompt   string `yaml:"user_prompt" json:"-"`
}

type Catalogue struct {
	styles map[string]Style
}

func ParseCatalogue(data []byte) (*Catalogue, error) {
	var styles []Style
	if err := yaml.Unmarshal(data, &styles); err != nil {
		return nil, fmt.Errorf("error parsing style catalogue: %w", err)
	}

	c := &Catalogue{styles: make(map[string]Style, len(styles))}
	for _, s := range styles {
		if s.Name == "" || s.SystemPrompt == "" || s.UserPrompt == "" {
			return nil, fmt.Errorf("style %q is missing a name or prompts", s.Name)
		}
		if _, ok := c.styles[s.Name]; ok {
			return nil, fmt.Errorf("style %q is defined twice", s.Name)
		}
		c.styles[s.Name] = s
	}

	return c, nil
}

func DefaultCatalogue() *Catalogue {
	c, err := ParseCatalogue(defaultStyles)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalogue) Get(name string) (Style, error) {
	s, ok := c.styles[name]
	if !ok {
		return Style{}, ErrInvalidStyle
	}
	return s, nil
}

func (c *Catalogue) List() []Style {
	out := make([]Style, 0, len(c.styles))
	for _, s := range c.styles {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
