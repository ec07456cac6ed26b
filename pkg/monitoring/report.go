package monitoring

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
)

var funcs = template.FuncMap{
	"num": func(v float64) string {
		if math.IsNaN(v) {
			return "-"
		}
		return fmt.Sprintf("%.4f", v)
	},
	"pct": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
}

var reportTemplate = template.Must(template.New("report").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Model Health Report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: right; }
th:first-child, td:first-child { text-align: left; }
tr.drift td { background: #fde2e2; }
</style>
</head>
<body>
<h1>Model Health Report</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}. Reference rows: {{.ReferenceRows}}. Current rows: {{.CurrentRows}}.</p>
<h2>Data Drift</h2>
<p>{{.DriftedCount}} of {{len .Features}} features drifted ({{pct .DriftShare}}). Dataset drift: {{if .DatasetDrift}}<strong>detected</strong>{{else}}not detected{{end}}. PSI threshold {{num .Threshold}}.</p>
<table>
<tr><th>Feature</th><th>Type</th><th>PSI</th><th>Drift</th><th>Ref missing</th><th>Cur missing</th><th>Ref mean</th><th>Cur mean</th></tr>
{{range .Features}}<tr{{if .Drifted}} class="drift"{{end}}><td>{{.Feature}}</td><td>{{.Kind}}</td><td>{{if .Compared}}{{num .PSI}}{{else}}-{{end}}</td><td>{{if .Drifted}}yes{{else}}no{{end}}</td><td>{{pct .RefMissing}}</td><td>{{pct .CurMissing}}</td><td>{{num .RefMean}}</td><td>{{num .CurMean}}</td></tr>
{{end}}</table>
<h2>Target Drift</h2>
{{with .Target}}<p>{{.Feature}}: PSI {{if .Compared}}{{num .PSI}}{{else}}-{{end}}, {{if .Drifted}}<strong>drift detected</strong>{{else}}no drift{{end}}. Mean {{num .RefMean}} (reference) vs {{num .CurMean}} (current).</p>
{{else}}<p>Target column not present in both datasets.</p>
{{end}}</body>
</html>
`))

var errorTemplate = template.Must(template.New("error").Parse(
	`<html><body><h1>Monitoring Error</h1><p>{{.}}</p></body></html>`))

const noDataPage = `<html><body><h1>No data collected yet.</h1></body></html>`

func renderReport(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderError(err error) []byte {
	var buf bytes.Buffer
	if terr := errorTemplate.Execute(&buf, err.Error()); terr != nil {
		return []byte(`<html><body><h1>Monitoring Error</h1></body></html>`)
	}
	return buf.Bytes()
}

func renderNoData() []byte { return []byte(noDataPage) }
