// Package template renders message content by substituting named variables
// ({{name}}, {{firstName}}, ...) into subject and body strings. Rendering is
// pure: no I/O, no state beyond a parse cache.
package template

import (
	"regexp"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer renders merge tags using the Liquid template language, which is a
// superset of the {{variable}} syntax templates are authored with. Parsed
// templates are cached by source text.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the default filter set plus a
// "default" filter for fallback values: {{ firstName | default: "Friend" }}.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s, ok := value.(string); ok && s == "" {
			return fallback
		}
		return value
	})
	return &Renderer{engine: engine}
}

var mergeTagRE = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Render substitutes variables into text. Unknown variables render empty
// (lax mode — a missing first name must not block a production send). If the
// text is not valid Liquid, plain {{tag}} substitution is applied instead so
// hand-authored templates with stray braces still render.
func (r *Renderer) Render(text string, vars map[string]string) string {
	if text == "" {
		return ""
	}

	tpl, err := r.parse(text)
	if err != nil {
		return substituteMergeTags(text, vars)
	}

	bindings := make(map[string]any, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return substituteMergeTags(text, vars)
	}
	return out
}

func (r *Renderer) parse(text string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(text); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(text)
	if err != nil {
		return nil, err
	}
	r.cache.Store(text, tpl)
	return tpl, nil
}

// substituteMergeTags is the fallback renderer: replace {{tag}} occurrences
// with the matching variable, leaving unknown tags empty.
func substituteMergeTags(text string, vars map[string]string) string {
	return mergeTagRE.ReplaceAllStringFunc(text, func(tag string) string {
		name := mergeTagRE.FindStringSubmatch(tag)[1]
		return vars[name]
	})
}
