package components

import (
	"path"

	"github.com/openfroyo/pabawi/pkg/config"
	"github.com/openfroyo/pabawi/pkg/engine"
)

// SystemdUnitPath is the unit file of the npm installation.
const SystemdUnitPath = "/etc/systemd/system/pabawi.service"

// AppEnvFile is the application environment file, relative to config_dir.
const AppEnvFile = "pabawi.env"

// BuildStamp records the commit the current build was made from, relative
// to install_dir.
const BuildStamp = ".pabawi-built"

const (
	buildCommand = "npm run build && git rev-parse HEAD > " + BuildStamp
	builtGuard   = `test "$(cat ` + BuildStamp + ` 2>/dev/null)" = "$(git rev-parse HEAD)"`
)

func npmSpec() engine.ComponentSpec {
	return engine.ComponentSpec{
		Name:        config.DefaultInstallClass,
		Kind:        engine.ComponentKindInstaller,
		Description: "Installs the console from source with npm under systemd",
		Params: []engine.ParamSpec{
			{Name: engine.ParamConfigDir, Type: engine.ParamString, Required: true},
			{Name: "install_dir", Type: engine.ParamString, Default: "/opt/pabawi"},
			{Name: "repo_url", Type: engine.ParamString, Default: "https://github.com/example42/pabawi.git"},
			{Name: "revision", Type: engine.ParamString, Default: "main"},
			{Name: "user", Type: engine.ParamString, Default: "pabawi"},
			{Name: "group", Type: engine.ParamString, Default: "pabawi"},
			{Name: "port", Type: engine.ParamInt, Default: 3000},
			{Name: config.SettingAuthEnabled, Type: engine.ParamBool, Default: false},
			{Name: config.SettingJWTSecret, Type: engine.ParamString, Default: ""},
			{Name: "log_level", Type: engine.ParamString, Default: "info"},
			{Name: "manage_nodejs", Type: engine.ParamBool, Default: true,
				Description: "Install nodejs and npm from the distribution"},
		},
		Build: buildNpm,
	}
}

func buildNpm(p engine.Params) (*engine.BuildResult, error) {
	installDir := p.String("install_dir")
	user := p.String("user")
	group := p.String("group")
	configDir := p.String(engine.ParamConfigDir)

	grp := engine.Declare(&engine.GroupSpec{Name: group, System: true})
	usr := engine.Declare(&engine.UserSpec{
		Name:   user,
		Group:  group,
		Home:   installDir,
		Shell:  "/usr/sbin/nologin",
		System: true,
	}).Following(grp.ID)

	git := engine.Declare(&engine.PackageSpec{Name: "git"})
	resources := []engine.ResourceDecl{grp, usr, git}

	toolchain := []string{git.ID}
	if p.Bool("manage_nodejs") {
		node := engine.Declare(&engine.PackageSpec{Name: "nodejs"})
		npm := engine.Declare(&engine.PackageSpec{Name: "npm"}).Following(node.ID)
		resources = append(resources, node, npm)
		toolchain = append(toolchain, npm.ID)
	}

	repo := engine.Declare(&engine.RepositorySpec{
		Path:     installDir,
		URL:      p.String("repo_url"),
		Revision: p.String("revision"),
		User:     user,
	}).Following(usr.ID).Following(toolchain...)

	deps := engine.Declare(&engine.CommandSpec{
		Name:    "pabawi-npm-install",
		Command: "npm ci --no-audit --no-fund",
		Cwd:     installDir,
		User:    user,
		Guard: engine.Guard{
			// package-lock.json is rewritten on every checkout that changes it.
			Unless: "test node_modules/.package-lock.json -nt package-lock.json",
		},
	}).Following(repo.ID)

	build := engine.Declare(&engine.CommandSpec{
		Name:    "pabawi-npm-build",
		Command: buildCommand,
		Cwd:     installDir,
		User:    user,
		Env:     map[string]string{"NODE_ENV": "production"},
		Guard: engine.Guard{
			// Rebuild whenever the checkout moves, even if the lock file did not.
			Unless: builtGuard,
		},
	}).Following(deps.ID)

	envContent, err := RenderEnvFile(appEnv(p, configDir))
	if err != nil {
		return nil, err
	}
	envPath := path.Join(configDir, AppEnvFile)
	env := engine.Declare(&engine.FileSpec{
		Path:    envPath,
		Mode:    0o640,
		Owner:   "root",
		Group:   group,
		Content: envContent,
	}).Following(configDirID(p), grp.ID)

	unitContent, err := RenderSystemdUnit(SystemdUnit{
		User:       user,
		Group:      group,
		InstallDir: installDir,
		EnvFile:    envPath,
	})
	if err != nil {
		return nil, err
	}
	unit := engine.Declare(&engine.FileSpec{
		Path:    SystemdUnitPath,
		Mode:    0o644,
		Owner:   "root",
		Group:   "root",
		Content: unitContent,
	})

	service := engine.Declare(&engine.ServiceSpec{
		Name:      "pabawi",
		Running:   true,
		Enabled:   true,
		Subscribe: []string{repo.ID, build.ID, env.ID, unit.ID},
	}).Following(build.ID, env.ID, unit.ID)

	resources = append(resources, repo, deps, build, env, unit, service)
	return &engine.BuildResult{Resources: resources}, nil
}

// appEnv is the environment shared by both installers.
func appEnv(p engine.Params, configDir string) EnvFile {
	var f EnvFile
	f.Set("NODE_ENV", "production")
	f.Set("PORT", p.Int("port"))
	f.Set("LOG_LEVEL", p.String("log_level"))
	f.Set("CONFIG_DIR", configDir)
	f.Set("INTEGRATIONS_DIR", path.Join(configDir, IntegrationsDir))
	f.Set("AUTH_ENABLED", p.Bool(config.SettingAuthEnabled))
	if p.Bool(config.SettingAuthEnabled) {
		f.Set("JWT_SECRET", p.String(config.SettingJWTSecret))
	}
	return f
}
