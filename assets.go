// Package portalauth provides embedded page templates.
package portalauth

import "embed"

// TemplateFS holds the HTML templates for the login and portal pages.
// In dev mode the templates are read from disk instead so edits show up on reload.
//
//go:embed web/templates/*.html
var TemplateFS embed.FS
