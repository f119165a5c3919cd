package mailqueue

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// layout wraps every rendered body in a minimal email-client friendly shell.
const layout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:24px;font-family:Helvetica,Arial,sans-serif;color:#1f2933;background:#f5f7fa;">
<div style="max-width:560px;margin:0 auto;background:#ffffff;border-radius:8px;padding:32px;">
<h2 style="margin-top:0;color:#6c3fb5;">WishBubble</h2>
{{.Body}}
<p style="color:#7b8794;font-size:12px;margin-bottom:0;">You received this email because of activity in your WishBubble account.</p>
</div>
</body>
</html>`

// Renderer renders queue items into subject and HTML body. Each email kind
// has one template file defining "subject" and "body" blocks.
type Renderer struct {
	templates map[Kind]*template.Template
	layout    *template.Template
}

// NewRenderer creates a renderer and parses all templates eagerly, so a
// missing or broken template fails startup instead of the first send.
func NewRenderer() (*Renderer, error) {
	titleCaser := cases.Title(language.English)
	funcMap := template.FuncMap{
		"title":          titleCaser.String,
		"upper":          strings.ToUpper,
		"lower":          strings.ToLower,
		"formatDate":     formatDate,
		"formatDateTime": formatDateTime,
	}

	r := &Renderer{
		templates: make(map[Kind]*template.Template),
	}

	for _, kind := range Kinds() {
		filename := fmt.Sprintf("templates/%s.tmpl", kind)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(kind)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", kind, err)
		}

		for _, block := range []string{"subject", "body"} {
			if tmpl.Lookup(block) == nil {
				return nil, fmt.Errorf("template %s: missing %q block", kind, block)
			}
		}

		r.templates[kind] = tmpl
	}

	layoutTmpl, err := template.New("layout").Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	r.layout = layoutTmpl

	return r, nil
}

// Render renders the email for the given kind. Returns subject and the full
// HTML body.
func (r *Renderer) Render(kind Kind, data any) (subject, body string, err error) {
	tmpl, ok := r.templates[kind]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	var subjBuf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subjBuf, "subject", data); err != nil {
		return "", "", fmt.Errorf("execute subject %s: %w", kind, err)
	}

	var bodyBuf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&bodyBuf, "body", data); err != nil {
		return "", "", fmt.Errorf("execute body %s: %w", kind, err)
	}

	var out bytes.Buffer
	err = r.layout.Execute(&out, struct{ Body template.HTML }{
		Body: template.HTML(strings.TrimSpace(bodyBuf.String())),
	})
	if err != nil {
		return "", "", fmt.Errorf("execute layout %s: %w", kind, err)
	}

	return strings.TrimSpace(subjBuf.String()), out.String(), nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006")
}

func formatDateTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}
