package applier

import (
	"context"
	"fmt"
	"io"
	"net"
	"slices"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

// DockerSocket is the daemon socket dialled on the target host.
const DockerSocket = "/var/run/docker.sock"

// DockerAPI is the subset of the Docker client the applier uses.
type DockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// NewDockerClient returns a client for the daemon on host. Connections to
// the socket are opened through the host, so a remote daemon is reached
// over the same SSH connection as everything else.
func NewDockerClient(host transports.Host) (DockerAPI, error) {
	dialer, ok := host.(transports.Dialer)
	if !ok {
		return nil, fmt.Errorf("host %s cannot open socket connections", host.Name())
	}
	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+DockerSocket),
		client.WithDialContext(func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", DockerSocket)
		}),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// EnsureContainer runs a container with the declared configuration. A
// container whose configuration drifted is recreated.
func (a *Applier) EnsureContainer(ctx context.Context, spec engine.ContainerSpec) (engine.Outcome, error) {
	out, err := a.ensureContainer(ctx, spec)
	return out, classify("ensure container", engine.ResourceID(engine.ResourceKindContainer, spec.Name), err)
}

func (a *Applier) ensureContainer(ctx context.Context, spec engine.ContainerSpec) (engine.Outcome, error) {
	docker, err := a.dockerClient(ctx)
	if err != nil {
		return engine.Outcome{}, err
	}

	containerCfg, hostCfg, err := containerConfig(spec)
	if err != nil {
		return engine.Outcome{}, err
	}

	current, err := docker.ContainerInspect(ctx, spec.Name)
	switch {
	case errdefs.IsNotFound(err):
		if err := a.createAndStart(ctx, docker, spec.Name, containerCfg, hostCfg); err != nil {
			return engine.Outcome{}, err
		}
		return engine.Changed("created %s from %s", spec.Name, spec.Image), nil
	case err != nil:
		return engine.Outcome{}, fmt.Errorf("inspect container %s: %w", spec.Name, err)
	}

	if drift := containerDrift(current, containerCfg, hostCfg); len(drift) > 0 {
		a.logger.Info().
			Str("container", spec.Name).
			Strs("drift", drift).
			Msg("Recreating container")
		if err := stopAndRemove(ctx, docker, spec.Name); err != nil {
			return engine.Outcome{}, err
		}
		if err := a.createAndStart(ctx, docker, spec.Name, containerCfg, hostCfg); err != nil {
			return engine.Outcome{}, err
		}
		return engine.Changed("recreated (%s)", strings.Join(drift, ", ")), nil
	}

	if !running(current) {
		if err := docker.ContainerStart(ctx, spec.Name, container.StartOptions{}); err != nil {
			return engine.Outcome{}, fmt.Errorf("start container %s: %w", spec.Name, err)
		}
		return engine.Changed("started"), nil
	}
	return engine.Unchanged(), nil
}

// dockerClient connects on first use because the daemon is usually
// installed by an earlier resource in the same run.
func (a *Applier) dockerClient(ctx context.Context) (DockerAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.docker != nil {
		return a.docker, nil
	}
	api, err := a.dockerFactory(ctx)
	if err != nil {
		return nil, err
	}
	a.docker = api
	return api, nil
}

func containerConfig(spec engine.ContainerSpec) (*container.Config, *container.HostConfig, error) {
	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return nil, nil, fmt.Errorf("parse ports: %w", err)
	}

	restart := spec.RestartPolicy
	if restart == "" {
		restart = string(container.RestartPolicyDisabled)
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          envList(spec.Env),
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		Binds:         slices.Clone(spec.Volumes),
		PortBindings:  bindings,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(restart)},
	}
	return containerCfg, hostCfg, nil
}

// containerDrift lists the declared settings the running container does
// not match. Environment entries added by the image are ignored.
func containerDrift(current container.InspectResponse, want *container.Config, wantHost *container.HostConfig) []string {
	var drift []string

	have := &container.Config{}
	if current.Config != nil {
		have = current.Config
	}
	haveHost := &container.HostConfig{}
	if current.ContainerJSONBase != nil && current.HostConfig != nil {
		haveHost = current.HostConfig
	}

	if have.Image != want.Image {
		drift = append(drift, "image")
	}
	for _, kv := range want.Env {
		if !slices.Contains(have.Env, kv) {
			drift = append(drift, "env")
			break
		}
	}
	if haveHost.RestartPolicy.Name != wantHost.RestartPolicy.Name {
		drift = append(drift, "restart policy")
	}
	if !sameStrings(haveHost.Binds, wantHost.Binds) {
		drift = append(drift, "volumes")
	}
	if !samePortBindings(haveHost.PortBindings, wantHost.PortBindings) {
		drift = append(drift, "ports")
	}
	return drift
}

func running(c container.InspectResponse) bool {
	return c.ContainerJSONBase != nil && c.State != nil && c.State.Running
}

func sameStrings(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	sort.Strings(a)
	sort.Strings(b)
	return slices.Equal(a, b)
}

func samePortBindings(a, b nat.PortMap) bool {
	if len(a) != len(b) {
		return false
	}
	for port, want := range b {
		have, ok := a[port]
		if !ok || !slices.Equal(have, want) {
			return false
		}
	}
	return true
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// createAndStart creates the container, pulling the image if it is not
// present locally, and starts it.
func (a *Applier) createAndStart(
	ctx context.Context,
	docker DockerAPI,
	name string,
	containerCfg *container.Config,
	hostCfg *container.HostConfig,
) error {
	_, err := docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, (*ocispec.Platform)(nil), name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("create container: %w", err)
		}
		if err := a.pullImage(ctx, docker, containerCfg.Image); err != nil {
			return err
		}
		if _, err = docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name); err != nil {
			return fmt.Errorf("create container after pull: %w", err)
		}
	}

	if err := docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

// pullImage pulls an image and drains the progress stream.
func (a *Applier) pullImage(ctx context.Context, docker DockerAPI, img string) error {
	a.logger.Info().Str("image", img).Msg("Pulling image")
	resp, err := docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull image %s: read response: %w", img, err)
	}
	return nil
}

// stopAndRemove ignores NotFound from either call.
func stopAndRemove(ctx context.Context, docker DockerAPI, name string) error {
	if err := docker.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("stop container %s: %w", name, err)
		}
	}
	if err := docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove container %s: %w", name, err)
		}
	}
	return nil
}
