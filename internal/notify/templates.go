package notify

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

type messageTemplate struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

type compiledTemplate struct {
	title *template.Template
	body  *template.Template
}

// Templates renders notification copy per category.
type Templates struct {
	byCategory map[string]compiledTemplate
}

// DefaultTemplates returns the built-in notification copy.
func DefaultTemplates() (*Templates, error) {
	return LoadTemplates(defaultTemplates)
}

// LoadTemplates parses a YAML document mapping category to title and body
// templates.
func LoadTemplates(data []byte) (*Templates, error) {
	var raw map[string]messageTemplate
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}

	t := &Templates{byCategory: make(map[string]compiledTemplate, len(raw))}
	for category, mt := range raw {
		title, err := template.New(category + ".title").Option("missingkey=zero").Parse(mt.Title)
		if err != nil {
			return nil, fmt.Errorf("parse %s title: %w", category, err)
		}
		body, err := template.New(category + ".body").Option("missingkey=zero").Parse(mt.Body)
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", category, err)
		}
		t.byCategory[category] = compiledTemplate{title: title, body: body}
	}
	return t, nil
}

// Render produces the title and body for a category.
func (t *Templates) Render(category string, data map[string]string) (string, string, error) {
	ct, ok := t.byCategory[category]
	if !ok {
		return "", "", fmt.Errorf("no template for category %q", category)
	}
	if data == nil {
		data = map[string]string{}
	}

	var title, body strings.Builder
	if err := ct.title.Execute(&title, data); err != nil {
		return "", "", fmt.Errorf("render %s title: %w", category, err)
	}
	if err := ct.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", category, err)
	}
	return title.String(), body.String(), nil
}
