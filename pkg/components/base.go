package components

import (
	"path"

	"github.com/openfroyo/pabawi/pkg/engine"
)

// IntegrationsDir is the directory under config_dir holding one env
// fragment per integration.
const IntegrationsDir = "integrations.d"

// SSLDir is the directory under config_dir holding integration client
// certificates.
const SSLDir = "ssl"

func baseSpec() engine.ComponentSpec {
	return engine.ComponentSpec{
		Name:        engine.BaseComponent,
		Kind:        engine.ComponentKindBase,
		Description: "Shared configuration and log directories",
		Params: []engine.ParamSpec{
			{Name: engine.ParamConfigDir, Type: engine.ParamString, Required: true,
				Description: "Configuration directory shared by every component"},
			{Name: "log_dir", Type: engine.ParamString, Default: "/var/log/pabawi",
				Description: "Application log directory"},
		},
		Build: buildBase,
	}
}

func buildBase(p engine.Params) (*engine.BuildResult, error) {
	configDir := p.String(engine.ParamConfigDir)

	root := engine.Declare(&engine.DirectorySpec{Path: configDir, Mode: 0o755, Owner: "root", Group: "root"})
	integrations := engine.Declare(&engine.DirectorySpec{
		Path:  path.Join(configDir, IntegrationsDir),
		Mode:  0o755,
		Owner: "root",
		Group: "root",
	}).Following(root.ID)
	ssl := engine.Declare(&engine.DirectorySpec{
		Path:  path.Join(configDir, SSLDir),
		Mode:  0o755,
		Owner: "root",
		Group: "root",
	}).Following(root.ID)
	logs := engine.Declare(&engine.DirectorySpec{Path: p.String("log_dir"), Mode: 0o755})

	return &engine.BuildResult{
		Resources: []engine.ResourceDecl{root, integrations, ssl, logs},
	}, nil
}

// configDirID returns the resource id of the shared configuration
// directory owned by the base component.
func configDirID(p engine.Params) string {
	return engine.ResourceID(engine.ResourceKindDirectory, p.String(engine.ParamConfigDir))
}

func integrationsDirID(p engine.Params) string {
	return engine.ResourceID(engine.ResourceKindDirectory, path.Join(p.String(engine.ParamConfigDir), IntegrationsDir))
}

func sslDirID(p engine.Params) string {
	return engine.ResourceID(engine.ResourceKindDirectory, path.Join(p.String(engine.ParamConfigDir), SSLDir))
}

// baseDirID returns the id of dir when the base component declares it.
func baseDirID(p engine.Params, dir string) (string, bool) {
	for _, id := range []string{configDirID(p), integrationsDirID(p), sslDirID(p)} {
		if id == engine.ResourceID(engine.ResourceKindDirectory, path.Clean(dir)) {
			return id, true
		}
	}
	return "", false
}
