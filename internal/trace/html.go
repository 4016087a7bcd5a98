package trace

import (
	"bytes"
	"encoding/json"
	"html/template"
	"io"
)

var traceTemplate = template.Must(template.New("trace").Parse(`<div class="trace" data-id="{{.ID}}">
<h3 class="trace-header">Trace {{.ID}}</h3>
{{range .Steps}}<div class="trace-step">
<div class="trace-step-name">{{.Name}}</div>
<pre>{{.Body}}</pre>
</div>
{{end}}</div>
`))

type htmlStep struct {
	Name string
	Body string
}

// RenderHTML writes the trace as an HTML fragment: a header with the
// correlation id followed by each step's file name and pretty-printed body.
// Bodies that are not valid JSON are shown as raw text.
func RenderHTML(w io.Writer, t *Trace) error {
	view := struct {
		ID    string
		Steps []htmlStep
	}{ID: t.ID}

	for _, r := range t.Steps {
		view.Steps = append(view.Steps, htmlStep{Name: r.FileName(), Body: prettyJSON(r.Data)})
	}
	return traceTemplate.Execute(w, view)
}

func prettyJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}
