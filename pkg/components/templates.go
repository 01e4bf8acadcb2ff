package components

import (
	_ "embed"
)

//go:embed templates/nginx.conf.tmpl
var nginxConfTemplate string

//go:embed templates/pabawi.service.tmpl
var systemdUnitTemplate string

//go:embed templates/env.tmpl
var envTemplate string

// GetTemplate returns the named template content.
func GetTemplate(name string) (string, bool) {
	templates := map[string]string{
		"nginx.conf":     nginxConfTemplate,
		"pabawi.service": systemdUnitTemplate,
		"env":            envTemplate,
	}

	tmpl, ok := templates[name]
	return tmpl, ok
}
