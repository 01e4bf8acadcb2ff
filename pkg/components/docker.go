package components

import (
	"fmt"

	"github.com/openfroyo/pabawi/pkg/config"
	"github.com/openfroyo/pabawi/pkg/engine"
)

// DockerInstallClass runs the published console image instead of building
// from source.
const DockerInstallClass = "pabawi::install::docker"

// containerConfigDir is where the host config_dir is mounted inside the
// container.
const containerConfigDir = "/etc/pabawi"

func dockerSpec() engine.ComponentSpec {
	return engine.ComponentSpec{
		Name:        DockerInstallClass,
		Kind:        engine.ComponentKindInstaller,
		Description: "Runs the console as a docker container",
		Params: []engine.ParamSpec{
			{Name: engine.ParamConfigDir, Type: engine.ParamString, Required: true},
			{Name: "image", Type: engine.ParamString, Default: "example42/pabawi:0.4.0"},
			{Name: "container_name", Type: engine.ParamString, Default: "pabawi"},
			{Name: "port", Type: engine.ParamInt, Default: 3000},
			{Name: "data_dir", Type: engine.ParamString, Default: "/var/lib/pabawi"},
			{Name: config.SettingAuthEnabled, Type: engine.ParamBool, Default: false},
			{Name: config.SettingJWTSecret, Type: engine.ParamString, Default: ""},
			{Name: "log_level", Type: engine.ParamString, Default: "info"},
			{Name: "manage_docker", Type: engine.ParamBool, Default: true,
				Description: "Install and start the docker engine"},
			{Name: "docker_package", Type: engine.ParamString, Default: "docker.io"},
		},
		Build: buildDocker,
	}
}

func buildDocker(p engine.Params) (*engine.BuildResult, error) {
	var resources []engine.ResourceDecl
	var after []string

	if p.Bool("manage_docker") {
		pkg := engine.Declare(&engine.PackageSpec{Name: p.String("docker_package")})
		svc := engine.Declare(&engine.ServiceSpec{Name: "docker", Running: true, Enabled: true}).
			Following(pkg.ID).
			Critical()
		resources = append(resources, pkg, svc)
		after = append(after, svc.ID)
	}

	dataDir := engine.Declare(&engine.DirectorySpec{Path: p.String("data_dir"), Mode: 0o750})
	resources = append(resources, dataDir)
	after = append(after, dataDir.ID, configDirID(p))

	env := make(map[string]string)
	for _, v := range appEnv(p, containerConfigDir).Vars {
		env[v.Name] = v.Value
	}
	// The application always listens on its default port inside the
	// container; port only changes the published host port.
	env["PORT"] = "3000"

	container := engine.Declare(&engine.ContainerSpec{
		Name:  p.String("container_name"),
		Image: p.String("image"),
		Env:   env,
		Volumes: []string{
			p.String("data_dir") + ":/data",
			p.String(engine.ParamConfigDir) + ":" + containerConfigDir + ":ro",
		},
		Ports:         []string{fmt.Sprintf("127.0.0.1:%d:3000", p.Int("port"))},
		RestartPolicy: "unless-stopped",
	}).Following(after...)
	resources = append(resources, container)

	return &engine.BuildResult{Resources: resources}, nil
}
