// Package portal provides the embedded screen templates.
package portal

import "embed"

// Embedded templates for production builds.
// In dev mode (IsDev=true), templates are loaded from disk for hot reloading.

//go:embed frontend/templates/*.tmpl
var TemplateFS embed.FS

// TemplateDir is the on-disk location of the templates, relative to the repository root.
const TemplateDir = "frontend/templates"
