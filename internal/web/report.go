package web

import (
	"encoding/json"
	"html/template"
	"net/http"
	"os"

	"github.com/pvondra/facefinder/internal/organizer"
)

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ReportHandler serves the last organizer run report.
type ReportHandler struct {
	reportPath string
}

func NewReportHandler(reportPath string) *ReportHandler {
	return &ReportHandler{reportPath: reportPath}
}

func (h *ReportHandler) load() (*organizer.Report, error) {
	data, err := os.ReadFile(h.reportPath)
	if err != nil {
		return nil, err
	}
	var report organizer.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Get returns the raw run report as JSON.
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	report, err := h.load()
	if os.IsNotExist(err) {
		respondError(w, http.StatusNotFound, "no run report found, run the organizer first")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not read run report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Dashboard renders the run report as an HTML grid, matches first.
func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	report, err := h.load()
	if os.IsNotExist(err) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(emptyDashboard))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not read run report")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, report); err != nil {
		// Headers already sent, just log nothing; chi's Recoverer covers panics.
		return
	}
}

const emptyDashboard = `<!DOCTYPE html>
<html>
<head><title>Face Finder</title></head>
<body style="font-family: system-ui, sans-serif; background: #1a1a2e; color: #eee; text-align: center; padding-top: 4rem;">
<h1 style="color: #00d9ff;">Face Finder</h1>
<p>No run report yet. Run <code>facefinder organize</code> first.</p>
</body>
</html>`

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Face Finder</title>
    <style>
        body { font-family: system-ui, sans-serif; margin: 0; background: #1a1a2e; color: #eee; }
        header { padding: 1rem 2rem; background: #16162a; }
        h1 { color: #00d9ff; margin: 0; font-size: 1.4rem; }
        .summary { padding: 1rem 2rem; color: #aaa; }
        .summary b { color: #eee; }
        .grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(220px, 1fr)); gap: 12px; padding: 0 2rem 2rem; }
        .card { background: #2a2a3e; border-radius: 8px; padding: 12px; border-left: 4px solid #555; }
        .card.matched { border-left-color: #2ecc71; }
        .card.failed { border-left-color: #e74c3c; }
        .card .name { font-weight: 600; word-break: break-all; }
        .card .meta { color: #aaa; font-size: 0.85rem; margin-top: 4px; }
        pre { background: #16162a; padding: 1rem; margin: 0 2rem 2rem; border-radius: 8px; color: #aaa; overflow-x: auto; }
    </style>
</head>
<body>
<header><h1>Face Finder &mdash; last run</h1></header>
<div class="summary">
    Provider <b>{{.Provider}}</b> processed <b>{{.Processed}}</b> photos from <b>{{.Source}}</b>:
    <b>{{.Matched}}</b> matched, <b>{{.Skipped}}</b> skipped, <b>{{.Failed}}</b> failed.
    {{if .DryRun}}<b>Dry run, nothing was {{.Operation}}d.</b>{{end}}
</div>
<div class="grid">
{{range .Results}}
    <div class="card {{if ne .Error ""}}failed{{else if .Matched}}matched{{end}}">
        <div class="name">{{.Name}}</div>
        <div class="meta">
            faces: {{.FacesDetected}}
            {{if .Matched}} | confidence: {{printf "%.2f" .Confidence}}{{end}}
            {{if .Routed}} | routed{{end}}
            {{if .Skipped}} | already at destination{{end}}
        </div>
        {{if ne .Error ""}}<div class="meta">{{.Error}}</div>{{end}}
    </div>
{{end}}
</div>
{{if .UsageText}}<pre>{{.UsageText}}</pre>{{end}}
</body>
</html>`))
