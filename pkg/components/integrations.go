package components

import (
	"path"
	"strings"

	"github.com/openfroyo/pabawi/pkg/config"
	"github.com/openfroyo/pabawi/pkg/engine"
)

// integration describes one built-in integration. Every integration writes
// a single env fragment under integrations.d that the console reads at
// startup.
type integration struct {
	name        string
	description string
	params      []engine.ParamSpec
	// ssl adds the client certificate parameters.
	ssl bool
	env func(p engine.Params, f *EnvFile)
}

var builtinIntegrations = []integration{
	{
		name:        "bolt",
		description: "Puppet Bolt command and task execution",
		params: []engine.ParamSpec{
			{Name: "project_path", Type: engine.ParamString, Default: "/opt/bolt-project"},
			{Name: "command_whitelist", Type: engine.ParamList, Default: []any{}},
			{Name: "execution_timeout", Type: engine.ParamInt, Default: 300},
		},
		env: func(p engine.Params, f *EnvFile) {
			f.Set("BOLT_PROJECT_PATH", p.String("project_path"))
			f.Set("BOLT_COMMAND_WHITELIST", strings.Join(p.Strings("command_whitelist"), ","))
			f.Set("BOLT_EXECUTION_TIMEOUT", p.Int("execution_timeout"))
		},
	},
	{
		name:        "puppetdb",
		description: "PuppetDB inventory and reports",
		ssl:         true,
		params: []engine.ParamSpec{
			{Name: "server_url", Type: engine.ParamString, Default: "https://puppet"},
			{Name: "port", Type: engine.ParamInt, Default: 8081},
			{Name: "timeout", Type: engine.ParamInt, Default: 30},
		},
		env: serverEnv("PUPPETDB"),
	},
	{
		name:        "puppetserver",
		description: "Puppet Server catalogs and certificates",
		ssl:         true,
		params: []engine.ParamSpec{
			{Name: "server_url", Type: engine.ParamString, Default: "https://puppet"},
			{Name: "port", Type: engine.ParamInt, Default: 8140},
			{Name: "timeout", Type: engine.ParamInt, Default: 30},
		},
		env: serverEnv("PUPPETSERVER"),
	},
	{
		name:        "hiera",
		description: "Hiera data browsing from a control repository",
		params: []engine.ParamSpec{
			{Name: "control_repo_path", Type: engine.ParamString, Default: "/etc/puppetlabs/code"},
			{Name: "environments", Type: engine.ParamList, Default: []any{"production"}},
		},
		env: func(p engine.Params, f *EnvFile) {
			f.Set("HIERA_CONTROL_REPO_PATH", p.String("control_repo_path"))
			f.Set("HIERA_ENVIRONMENTS", strings.Join(p.Strings("environments"), ","))
		},
	},
	{
		name:        "ansible",
		description: "Ansible inventory and playbooks",
		params: []engine.ParamSpec{
			{Name: "inventory_path", Type: engine.ParamString, Default: "/etc/ansible/hosts"},
			{Name: "playbook_path", Type: engine.ParamString, Default: "/etc/ansible/playbooks"},
		},
		env: func(p engine.Params, f *EnvFile) {
			f.Set("ANSIBLE_INVENTORY_PATH", p.String("inventory_path"))
			f.Set("ANSIBLE_PLAYBOOK_PATH", p.String("playbook_path"))
		},
	},
	{
		name:        "ssh",
		description: "Direct SSH command execution",
		params: []engine.ParamSpec{
			{Name: "default_user", Type: engine.ParamString, Default: "root"},
			{Name: "key_path", Type: engine.ParamString, Default: ""},
		},
		env: func(p engine.Params, f *EnvFile) {
			f.Set("SSH_DEFAULT_USER", p.String("default_user"))
			if key := p.String("key_path"); key != "" {
				f.Set("SSH_KEY_PATH", key)
			}
		},
	},
}

func serverEnv(prefix string) func(engine.Params, *EnvFile) {
	return func(p engine.Params, f *EnvFile) {
		f.Set(prefix+"_SERVER_URL", p.String("server_url"))
		f.Set(prefix+"_PORT", p.Int("port"))
		f.Set(prefix+"_TIMEOUT", p.Int("timeout"))
	}
}

var sslParams = []engine.ParamSpec{
	{Name: config.SettingSSL, Type: engine.ParamBool, Default: false},
	{Name: config.SettingSSLSelfSigned, Type: engine.ParamBool, Default: false},
	{Name: config.SettingSSLCertSource, Type: engine.ParamString, Default: ""},
	{Name: config.SettingSSLKeySource, Type: engine.ParamString, Default: ""},
	{Name: config.SettingSSLCertContent, Type: engine.ParamString, Default: ""},
	{Name: config.SettingSSLKeyContent, Type: engine.ParamString, Default: ""},
}

func (in integration) spec() engine.ComponentSpec {
	component, err := config.IntegrationComponentName(in.name)
	if err != nil {
		panic(err)
	}

	params := []engine.ParamSpec{{Name: engine.ParamConfigDir, Type: engine.ParamString, Required: true}}
	params = append(params, in.params...)
	if in.ssl {
		params = append(params, sslParams...)
	}

	return engine.ComponentSpec{
		Name:        component,
		Kind:        engine.ComponentKindIntegration,
		Description: in.description,
		Params:      params,
		Build:       in.build,
	}
}

// FragmentPath returns the env fragment path for the integration name.
func FragmentPath(configDir, name string) string {
	return path.Join(configDir, IntegrationsDir, name+".env")
}

func (in integration) build(p engine.Params) (*engine.BuildResult, error) {
	configDir := p.String(engine.ParamConfigDir)
	prefix := strings.ToUpper(in.name)

	f := EnvFile{Title: "Integration: " + in.name}
	f.Set(prefix+"_ENABLED", true)
	in.env(p, &f)

	var resources []engine.ResourceDecl
	after := []string{integrationsDirID(p)}

	if in.ssl && p.Bool(config.SettingSSL) {
		certPath := path.Join(configDir, SSLDir, in.name+".crt")
		keyPath := path.Join(configDir, SSLDir, in.name+".key")

		if p.Bool(config.SettingSSLSelfSigned) {
			cert := engine.Declare(&engine.CertificateSpec{
				CommonName: "pabawi-" + in.name,
				CertPath:   certPath,
				KeyPath:    keyPath,
				ValidDays:  365,
			}).Following(sslDirID(p)).NonFatal()
			resources = append(resources, cert)
			after = append(after, cert.ID)
		} else {
			cert := sslFile(certPath, 0o644, p.String(config.SettingSSLCertContent), p.String(config.SettingSSLCertSource)).
				Following(sslDirID(p)).NonFatal()
			key := sslFile(keyPath, 0o640, p.String(config.SettingSSLKeyContent), p.String(config.SettingSSLKeySource)).
				Following(sslDirID(p)).NonFatal()
			resources = append(resources, cert, key)
			after = append(after, cert.ID, key.ID)
		}

		f.Set(prefix+"_SSL_ENABLED", true)
		f.Set(prefix+"_SSL_CERT", certPath)
		f.Set(prefix+"_SSL_KEY", keyPath)
	}

	content, err := RenderEnvFile(f)
	if err != nil {
		return nil, err
	}
	fragment := engine.Declare(&engine.FileSpec{
		Path:    FragmentPath(configDir, in.name),
		Mode:    0o644,
		Owner:   "root",
		Group:   "root",
		Content: content,
	}).Following(after...).NonFatal()
	resources = append(resources, fragment)

	return &engine.BuildResult{Resources: resources}, nil
}
