package worker

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateEngine personalizes subjects and bodies with recipient fields.
// Plain {{field}} placeholders are substituted directly; documents using
// Liquid tags get the full Liquid engine. Parsed templates are cached by
// source text.
type TemplateEngine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateEngine creates a template engine with the default filters.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{engine: liquid.NewEngine()}
}

// Render personalizes source with the given fields. Unknown placeholders
// stay literal; a template that fails to parse or render comes back
// unmodified, since a sent message beats a dropped one.
func (t *TemplateEngine) Render(source string, fields map[string]string) string {
	if !strings.Contains(source, "{{") && !strings.Contains(source, "{%") {
		return source
	}
	if strings.Contains(source, "{%") {
		return t.renderLiquid(source, fields)
	}
	return substitute(source, fields)
}

func (t *TemplateEngine) renderLiquid(source string, fields map[string]string) string {
	tmpl, err := t.parse(source)
	if err != nil {
		log.Printf("[Template] Parse failed, sending unrendered: %v", err)
		return source
	}

	bindings := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		bindings[k] = v
	}

	out, err := tmpl.Render(bindings)
	if err != nil {
		log.Printf("[Template] Render failed, sending unrendered: %v", err)
		return source
	}
	return string(out)
}

func (t *TemplateEngine) parse(source string) (*liquid.Template, error) {
	if cached, ok := t.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}

	tmpl, err := t.engine.ParseString(source)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	t.cache.Store(source, tmpl)
	return tmpl, nil
}

// substitute replaces {{field}} and {{ field }} for every known field.
// Placeholders naming unknown fields are left as written.
func substitute(source string, fields map[string]string) string {
	for key, value := range fields {
		source = strings.ReplaceAll(source, "{{"+key+"}}", value)
		source = strings.ReplaceAll(source, "{{ "+key+" }}", value)
	}
	return source
}
