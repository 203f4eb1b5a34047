package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name string
		text string
		vars map[string]string
		want string
	}{
		{
			name: "simple substitution",
			text: "Hello {{name}}!",
			vars: map[string]string{"name": "Ana"},
			want: "Hello Ana!",
		},
		{
			name: "multiple variables",
			text: "Hi {{firstName}}, your plan is {{plan}}.",
			vars: map[string]string{"firstName": "Ana", "plan": "premium"},
			want: "Hi Ana, your plan is premium.",
		},
		{
			name: "missing variable renders empty",
			text: "Hello {{name}}!",
			vars: map[string]string{},
			want: "Hello !",
		},
		{
			name: "default filter",
			text: `Hello {{ firstName | default: "Friend" }}!`,
			vars: map[string]string{"firstName": ""},
			want: "Hello Friend!",
		},
		{
			name: "whitespace inside tag",
			text: "Hello {{ name }}!",
			vars: map[string]string{"name": "Ana"},
			want: "Hello Ana!",
		},
		{
			name: "empty text",
			text: "",
			vars: map[string]string{"name": "Ana"},
			want: "",
		},
		{
			name: "no tags passes through",
			text: "Plain subject line",
			vars: map[string]string{"name": "Ana"},
			want: "Plain subject line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Render(tt.text, tt.vars))
		})
	}
}

func TestRenderInvalidLiquidFallsBack(t *testing.T) {
	r := NewRenderer()
	// Unclosed tag is not valid Liquid; fallback substitution still resolves
	// well-formed merge tags in the rest of the text.
	out := r.Render("Hi {{name}}, discount {% if }", map[string]string{"name": "Ana"})
	assert.Contains(t, out, "Ana")
}

func TestRenderCacheReuse(t *testing.T) {
	r := NewRenderer()
	first := r.Render("Hello {{name}}", map[string]string{"name": "A"})
	second := r.Render("Hello {{name}}", map[string]string{"name": "B"})
	assert.Equal(t, "Hello A", first)
	assert.Equal(t, "Hello B", second)
}
