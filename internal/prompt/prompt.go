// Package prompt renders the generation request sent to the text backend.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"github.com/bobarin/storyforge/internal/storyerr"
)

//go:embed templates/story_prompt.txt
var defaultTemplate string

// Fields are the values substituted into the template.
type Fields struct {
	Prompt   string
	Language string
	Style    string
}

// Renderer holds a parsed template. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// Load parses the template at path, or the built-in template when path is
// empty. The template is trial-rendered so a malformed one fails here rather
// than on the first request.
func Load(path string) (*Renderer, error) {
	text := defaultTemplate
	name := "story_prompt.txt"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, storyerr.New(storyerr.KindTemplate, "load template", err)
		}
		text = string(data)
		name = path
	}
	return Parse(name, text)
}

// Parse builds a Renderer from template text.
func Parse(name, text string) (*Renderer, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, storyerr.New(storyerr.KindTemplate, "parse template", err)
	}

	r := &Renderer{tmpl: tmpl}
	if _, err := r.Render("prompt", "language", "style"); err != nil {
		return nil, err
	}
	return r, nil
}

// Render substitutes prompt, language and style into the template.
func (r *Renderer) Render(prompt, language, style string) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, Fields{Prompt: prompt, Language: language, Style: style}); err != nil {
		return "", storyerr.New(storyerr.KindTemplate, "render template", fmt.Errorf("execute %s: %w", r.tmpl.Name(), err))
	}
	return buf.String(), nil
}
