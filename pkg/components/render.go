package components

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// render executes the named embedded template with data.
func render(name string, data any) (string, error) {
	content, ok := GetTemplate(name)
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}

	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"envquote": envQuote}).
		Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// NginxSite is the data for the reverse proxy site configuration.
type NginxSite struct {
	ServerName  string
	ListenPort  int
	SSL         bool
	SSLPort     int
	CertPath    string
	KeyPath     string
	BackendPort int
}

// RenderNginxSite renders the nginx site for the console.
func RenderNginxSite(site NginxSite) (string, error) {
	return render("nginx.conf", site)
}

// SystemdUnit is the data for the application unit file.
type SystemdUnit struct {
	User       string
	Group      string
	InstallDir string
	EnvFile    string
}

// RenderSystemdUnit renders the unit that runs the npm installation.
func RenderSystemdUnit(unit SystemdUnit) (string, error) {
	return render("pabawi.service", unit)
}

// EnvVar is one KEY=value line of an environment file.
type EnvVar struct {
	Name  string
	Value string
}

// EnvFile is an ordered environment file.
type EnvFile struct {
	Title string
	Vars  []EnvVar
}

// Set appends a variable. Order is preserved.
func (f *EnvFile) Set(name string, value any) {
	f.Vars = append(f.Vars, EnvVar{Name: name, Value: fmt.Sprint(value)})
}

// RenderEnvFile renders f in the KEY=value format read by systemd and
// docker.
func RenderEnvFile(f EnvFile) (string, error) {
	return render("env", f)
}

// envQuote double-quotes values that a shell-style env parser would split.
func envQuote(v string) string {
	if v == "" {
		return `""`
	}
	if !strings.ContainsAny(v, " \t\"'#$\\`") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(v) + `"`
}
