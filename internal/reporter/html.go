package reporter

import (
	"html/template"
	"io"
	"strings"

	"github.com/ppiankov/wphunter/internal/models"
)

// HTMLReporter renders a standalone HTML page
type HTMLReporter struct {
	writer io.Writer
}

// NewHTMLReporter creates a new HTML reporter
func NewHTMLReporter(writer io.Writer) *HTMLReporter {
	return &HTMLReporter{writer: writer}
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"join":     strings.Join,
	"severity": func(r models.ScoredResult) string { return string(r.Severity()) },
	"date": func(r models.ScoredResult) string {
		if r.LastUpdated.IsZero() {
			return "unknown"
		}
		return r.LastUpdated.Format("2006-01-02")
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>WPHunter report{{if .SessionID}} {{.SessionID}}{{end}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; font-size: 13px; }
th { background: #f0f0f0; }
.critical { background: #f8d7da; }
.high { background: #fde2c8; }
.medium { background: #fff3cd; }
</style>
</head>
<body>
<h1>WPHunter report</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}} UTC{{if .SessionID}}, session <code>{{.SessionID}}</code>{{end}}</p>
{{with .Summary}}
<h2>Summary</h2>
<ul>
<li>Evaluated: {{.Evaluated}}</li>
<li>Emitted: {{.Emitted}}</li>
<li>High risk (score &ge; {{.HighRiskThreshold}}): {{.HighRisk}}</li>
<li>Max score: {{.MaxScore}}</li>
</ul>
{{end}}
{{if .Recommendations}}
<h2>Recommended actions</h2>
<ol>
{{range .Recommendations}}<li><strong>[{{.Severity}}]</strong> {{.Action}} <em>{{.Impact}}</em></li>
{{end}}</ol>
{{end}}
<h2>Results ({{len .Results}})</h2>
<table>
<thead><tr><th>Score</th><th>Severity</th><th>Slug</th><th>Name</th><th>Version</th><th>Installs</th><th>Last updated</th><th>Risk tags</th><th>Security flags</th><th>Features</th></tr></thead>
<tbody>
{{range .Results}}<tr class="{{severity .}}"><td>{{.Score}}</td><td>{{severity .}}</td><td>{{if .DownloadLink}}<a href="{{.DownloadLink}}">{{.Slug}}</a>{{else}}{{.Slug}}{{end}}</td><td>{{.Name}}</td><td>{{.Version}}</td><td>{{.ActiveInstalls}}</td><td>{{date .}}</td><td>{{join .RiskTags ", "}}</td><td>{{join .SecurityFlags ", "}}</td><td>{{join .FeatureFlags ", "}}</td></tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

// Generate renders the document
func (r *HTMLReporter) Generate(doc *Document) error {
	return htmlTemplate.Execute(r.writer, doc)
}
