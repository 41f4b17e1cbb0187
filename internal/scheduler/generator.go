package scheduler

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/locrit/platform/internal/model"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Participant is a resolved conversation member.
type Participant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Turn is everything a generator may use to produce one message.
type Turn struct {
	Config       Config
	Index        int
	Speaker      Participant
	Participants []Participant
	History      []model.ChatMessage
}

// Generator produces the content of one turn.
type Generator interface {
	Generate(ctx context.Context, turn Turn) (string, error)
	Name() string
}

// SuffixRule decorates messages of speakers whose description mentions a keyword.
type SuffixRule struct {
	Keywords []string `yaml:"keywords"`
	Suffix   string   `yaml:"suffix"`
}

// Templates holds the template families and suffix rules.
type Templates struct {
	Styles   map[model.Style][]string `yaml:"styles"`
	Suffixes []SuffixRule             `yaml:"suffixes"`
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() *Templates {
	t, err := ParseTemplates(defaultTemplates)
	if err != nil {
		panic(fmt.Sprintf("built-in templates: %v", err))
	}
	return t
}

// LoadTemplates reads templates from a YAML file.
func LoadTemplates(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading templates: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes YAML templates and checks every style has at least
// one entry.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	for _, style := range model.Styles {
		if len(t.Styles[style]) == 0 {
			return nil, fmt.Errorf("templates: style %q has no entries", style)
		}
	}
	for i := range t.Suffixes {
		for j, kw := range t.Suffixes[i].Keywords {
			t.Suffixes[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return &t, nil
}

// TemplateGenerator picks template Index mod len(family) from the style's
// family and substitutes the topic.
type TemplateGenerator struct {
	templates *Templates
}

// NewTemplateGenerator creates a generator over t, or the built-in templates
// when t is nil.
func NewTemplateGenerator(t *Templates) *TemplateGenerator {
	if t == nil {
		t = DefaultTemplates()
	}
	return &TemplateGenerator{templates: t}
}

// Name returns the generator name.
func (g *TemplateGenerator) Name() string {
	return "template"
}

// Generate never fails.
func (g *TemplateGenerator) Generate(ctx context.Context, turn Turn) (string, error) {
	return g.Message(turn.Config.Style, turn.Config.Topic, turn.Index, turn.Speaker.Description), nil
}

// Message renders one templated message.
func (g *TemplateGenerator) Message(style model.Style, topic string, index int, description string) string {
	family := g.templates.Styles[style]
	if len(family) == 0 {
		family = g.templates.Styles[model.StyleCasual]
	}
	if index < 0 {
		index = 0
	}

	text := strings.ReplaceAll(family[index%len(family)], "{topic}", topic)
	return text + g.suffix(description)
}

func (g *TemplateGenerator) suffix(description string) string {
	desc := strings.ToLower(description)
	if desc == "" {
		return ""
	}
	for _, rule := range g.templates.Suffixes {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(desc, kw) {
				return rule.Suffix
			}
		}
	}
	return ""
}
