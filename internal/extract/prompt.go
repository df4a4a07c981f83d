// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// Prompt versions by extraction pass.
const (
	PromptV1      = "v1"
	PromptV1Retry = "v1-retry"
)

//go:embed prompts/*.yaml
var promptFS embed.FS

// Prompt is a versioned pair of system and user templates.
type Prompt struct {
	Version      string `yaml:"version"`
	Role         string `yaml:"role"`
	Instructions string `yaml:"instructions"`
	UserMessage  string `yaml:"user_message"`

	system *template.Template
	user   *template.Template
}

// PromptVersionFor returns the prompt version used on an extraction pass.
func PromptVersionFor(pass int) string {
	if pass >= 2 {
		return PromptV1Retry
	}
	return PromptV1
}

// LoadPrompt loads and compiles an embedded prompt version.
func LoadPrompt(version string) (*Prompt, error) {
	data, err := promptFS.ReadFile("prompts/" + version + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown prompt version %q", version)
	}
	var p Prompt
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prompt %s: %w", version, err)
	}
	if p.system, err = template.New(version + "-system").Parse(p.Role + "\n" + p.Instructions); err != nil {
		return nil, fmt.Errorf("compiling prompt %s: %w", version, err)
	}
	if p.user, err = template.New(version + "-user").Parse(p.UserMessage); err != nil {
		return nil, fmt.Errorf("compiling prompt %s: %w", version, err)
	}
	return &p, nil
}

// System renders the system prompt with the schema map as context.
func (p *Prompt) System(sm *types.SchemaMap) (string, error) {
	var buf bytes.Buffer
	if err := p.system.Execute(&buf, struct{ Schema string }{SchemaContext(sm)}); err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return buf.String(), nil
}

// User renders the user message around rendered batch text.
func (p *Prompt) User(fragments string) (string, error) {
	var buf bytes.Buffer
	if err := p.user.Execute(&buf, struct{ Fragments string }{fragments}); err != nil {
		return "", fmt.Errorf("rendering user message: %w", err)
	}
	return buf.String(), nil
}

var schemaContextTmpl = template.Must(template.New("schema").Parse(`Document Schema:
  Format: {{.DocumentFormat}}
  Pattern: {{.StructuralPattern}}
  Category: {{.DocumentCategory}}

Entities:
{{- range .Entities}}
  - {{.Label}} ({{.RecordCount}} records)
    Fields:
{{- range .Fields}}
      - {{.RawLabel}} ({{.InferredType}})
{{- end}}
{{- end}}`))

// SchemaContext describes the schema map for the prompt. A nil map yields
// an empty string.
func SchemaContext(sm *types.SchemaMap) string {
	if sm == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := schemaContextTmpl.Execute(&buf, sm); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
