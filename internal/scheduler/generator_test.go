package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locrit/platform/internal/model"
)

func TestDefaultTemplatesCoverEveryStyle(t *testing.T) {
	tmpl := DefaultTemplates()
	for _, style := range model.Styles {
		assert.NotEmpty(t, tmpl.Styles[style], "style %s", style)
	}
}

func TestTemplateMessageCyclesFamily(t *testing.T) {
	g := NewTemplateGenerator(nil)
	family := DefaultTemplates().Styles[model.StyleFormal]

	first := g.Message(model.StyleFormal, "tides", 0, "")
	wrapped := g.Message(model.StyleFormal, "tides", len(family), "")

	assert.Equal(t, first, wrapped)
	assert.Contains(t, first, "tides")
	assert.NotContains(t, first, "{topic}")
}

func TestTemplateSuffix(t *testing.T) {
	g := NewTemplateGenerator(nil)

	tests := []struct {
		description string
		suffix      string
	}{
		{"A creative storyteller", " ✨"},
		{"Senior TECH lead", " 🔧"},
		{"funny and warm", " 😊"},
		{"an old philosopher", " 🤔"},
		{"plain", ""},
		{"", ""},
	}

	for _, tt := range tests {
		msg := g.Message(model.StyleCasual, "rain", 0, tt.description)
		want := "Honestly, I've been thinking a lot about rain lately. What's your take?" + tt.suffix
		assert.Equal(t, want, msg, "description %q", tt.description)
	}
}

func TestTemplateGeneratorGenerate(t *testing.T) {
	g := NewTemplateGenerator(nil)

	text, err := g.Generate(context.Background(), Turn{
		Config:  Config{Topic: "jazz", Style: model.StyleDebate},
		Index:   1,
		Speaker: Participant{ID: "b", Description: "wise sage"},
	})
	require.NoError(t, err)
	assert.Equal(t, "I have to disagree. The evidence on jazz points the other way. 🤔", text)
}

func TestLoadTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	data := `
styles:
  casual: ["hey {topic}"]
  formal: ["dear {topic}"]
  debate: ["no {topic}"]
  creative: ["imagine {topic}"]
suffixes:
  - keywords: ["Robot"]
    suffix: " 🤖"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	tmpl, err := LoadTemplates(path)
	require.NoError(t, err)

	g := NewTemplateGenerator(tmpl)
	assert.Equal(t, "no cats 🤖", g.Message(model.StyleDebate, "cats", 3, "a robot friend"))
}

func TestParseTemplatesRequiresEveryStyle(t *testing.T) {
	_, err := ParseTemplates([]byte("styles:\n  casual: [\"hi\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "formal")
}
