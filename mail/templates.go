package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var resultsPublishedHTML = `<html>
<body>
    <h2>Your {{.competition}} results are available</h2>
    <p>Registration {{.registrationId}}</p>
    <table>
        {{if .score}}<tr><td>Score: {{.score}}</td></tr>{{end}}
        {{if .percentile}}<tr><td>Percentile: {{.percentile}}</td></tr>{{end}}
        {{if .rank}}<tr><td>Rank: {{.rank}}</td></tr>{{end}}
        {{if .category}}<tr><td>Category: {{.category}}</td></tr>{{end}}
    </table>
    <p><a href="{{.resultsURL}}">View your results</a></p>
    <p>Thank you for taking part in the Scholars Cambridge Competition.</p>
</body>
</html>`

// Renderer turns a named template and payload into a Message.
type Renderer struct {
	frontendURL string
	templates   map[string]emailTemplate
}

func NewRenderer(frontendURL string) *Renderer {
	r := &Renderer{frontendURL: frontendURL, templates: map[string]emailTemplate{}}
	r.register("results_published", "Your {{.competition}} results", resultsPublishedHTML)
	return r
}

func (r *Renderer) register(name, subject, body string) {
	r.templates[name] = emailTemplate{
		subject: template.Must(template.New(name + "_subject").Parse(subject)),
		body:    template.Must(template.New(name).Parse(body)),
	}
}

func (r *Renderer) Render(to, name string, payload map[string]any) (Message, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template %q", name)
	}

	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	if competition, ok := payload["competition"]; ok {
		data["resultsURL"] = fmt.Sprintf("%s/results/%v", r.frontendURL, competition)
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", name, err)
	}
	text, err := PlainText(body.String())
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject.String(), HTML: body.String(), Text: text}, nil
}
