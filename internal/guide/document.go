package guide

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/mik-tf/video-to-guide-pipeline/internal/transcribe"
)

// Request is the input for one guide-generation attempt.
type Request struct {
	Transcript   *transcribe.Transcript
	VideoName    string
	TemplateName string
}

type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Troubleshooting struct {
	Issue    string `json:"issue"`
	Solution string `json:"solution"`
}

type Metadata struct {
	SourceVideo          string    `json:"source_video"`
	GeneratedAt          time.Time `json:"generated_at"`
	WordCount            int       `json:"word_count"`
	EstimatedReadingTime int       `json:"estimated_reading_time_minutes"`
}

// Document is the structured guide produced from one transcript. AI
// backends fill Raw with ready markdown; the template backend fills
// the structured fields and renders them.
type Document struct {
	Title           string            `json:"title"`
	Introduction    string            `json:"introduction"`
	Sections        []Section         `json:"sections"`
	Commands        []string          `json:"commands"`
	URLs            []string          `json:"urls"`
	Prerequisites   []string          `json:"prerequisites"`
	Troubleshooting []Troubleshooting `json:"troubleshooting"`
	Metadata        Metadata          `json:"metadata"`
	Raw             string            `json:"-"`
}

// Backend is one concrete guide-generation capability.
type Backend interface {
	Name() string
	Available() bool
	Timeout() time.Duration
	Invoke(ctx context.Context, req Request) (*Document, error)
}

const defaultTemplate = `# {{ .Title }}

## Introduction

{{ .Introduction }}
{{ if .Prerequisites }}
## Prerequisites
{{ range .Prerequisites }}
- {{ . }}
{{- end }}
{{ end }}{{ if .Sections }}
## Steps
{{ range .Sections }}
### {{ .Title }}

{{ .Body }}
{{ end }}{{ end }}{{ if .Commands }}
## Commands Reference
{{ range .Commands }}
` + "```bash\n{{ . }}\n```" + `
{{ end }}{{ end }}{{ if .URLs }}
## References
{{ range .URLs }}
- <{{ . }}>
{{- end }}
{{ end }}{{ if .Troubleshooting }}
## Troubleshooting
{{ range .Troubleshooting }}
**Issue:** {{ .Issue }}

**Solution:** {{ .Solution }}
{{ end }}{{ end }}
---

*Generated on {{ .Metadata.GeneratedAt.Format "2006-01-02 15:04:05 MST" }} from {{ .Metadata.SourceVideo }}*
*Estimated reading time: {{ .Metadata.EstimatedReadingTime }} minutes*
`

// Render serializes the document to markdown. Documents produced by
// AI backends pass through untouched.
func (d *Document) Render(templateDir, templateName string) (string, error) {
	if d.Raw != "" {
		return d.Raw, nil
	}

	tmpl, err := loadTemplate(templateDir, templateName)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, d); err != nil {
		return "", fmt.Errorf("render guide template: %w", err)
	}

	return out.String(), nil
}

func loadTemplate(dir, name string) (*template.Template, error) {
	if dir != "" && name != "" {
		path := filepath.Join(dir, name+".md.tmpl")
		if data, err := os.ReadFile(path); err == nil {
			tmpl, err := template.New(name).Parse(string(data))
			if err != nil {
				return nil, fmt.Errorf("parse guide template %s: %w", path, err)
			}
			return tmpl, nil
		}
	}

	return template.Must(template.New("guide").Parse(defaultTemplate)), nil
}

// Save writes the rendered markdown to path.
func (d *Document) Save(path, templateDir, templateName string) error {
	content, err := d.Render(templateDir, templateName)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create guide directory: %w", err)
	}

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write guide: %w", err)
	}

	return nil
}
