// Package routes assembles the HTTP router: middleware, huma APIs, and
// route registration.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/classtable/timetable-api/internal/version"
)

const apiTitle = "Timetable API"

// NewHumaConfig creates the shared Huma configuration for the API.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig(apiTitle, version.Get().Version)
	cfg.Info.Description = "Asynchronous extraction of teacher timetables from uploaded images, PDFs, and DOCX files into structured weekly schedules."

	// Disable $schema field in responses - it trips up SDK code generators
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Timetables", Description: "Upload and extraction job management", Extensions: map[string]any{"x-displayName": "Timetables"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}

// newHiddenConfig returns a config for routes excluded from the OpenAPI
// docs (Kubernetes probes).
func newHiddenConfig() huma.Config {
	cfg := huma.DefaultConfig(apiTitle, version.Get().Version)
	cfg.DocsPath = ""
	cfg.OpenAPIPath = ""
	cfg.SchemasPath = ""
	return cfg
}
