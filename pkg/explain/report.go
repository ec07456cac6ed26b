package explain

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
	// bar scales |w| against the largest weight into a pixel width
	"bar": func(w, top float64) int {
		if top == 0 {
			return 0
		}
		return int(math.Round(math.Abs(w) / top * 200))
	},
}

var pageTemplate = template.Must(template.New("explanation").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Local Explanation: {{.E.Name}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: right; }
th:first-child, td:first-child { text-align: left; }
.pos { background: #f28e2b; height: 12px; display: inline-block; }
.neg { background: #4e79a7; height: 12px; display: inline-block; }
</style>
</head>
<body>
<h1>Local Explanation: {{.E.Name}}</h1>
<p>Generated {{.E.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}} from {{.E.Samples}} perturbed samples.</p>
<p>Model prediction {{num .E.Prediction}} (log1p scale). Surrogate prediction {{num .E.LocalPrediction}}, intercept {{num .E.Intercept}}, weighted R<sup>2</sup> {{num .E.Score}}.</p>
<table>
<tr><th>Feature</th><th>Value</th><th>Weight</th><th>Effect</th><th></th></tr>
{{range .E.Contributions}}<tr><td>{{.Feature}}</td><td>{{num .Value}}</td><td>{{num .Weight}}</td><td>{{num .Effect}}</td><td style="text-align:left"><span class="{{if lt .Weight 0.0}}neg{{else}}pos{{end}}" style="width:{{bar .Weight $.Max}}px"></span></td></tr>
{{end}}</table>
</body>
</html>
`))

// Render returns the explanation as a standalone HTML page.
func Render(e *Explanation) ([]byte, error) {
	var top float64
	for _, c := range e.Contributions {
		top = math.Max(top, math.Abs(c.Weight))
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, struct {
		E   *Explanation
		Max float64
	}{e, top}); err != nil {
		return nil, fmt.Errorf("render explanation: %w", err)
	}
	return buf.Bytes(), nil
}
