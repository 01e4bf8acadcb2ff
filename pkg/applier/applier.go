package applier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

// Applier converges every resource kind on one host.
type Applier struct {
	host   transports.Host
	logger zerolog.Logger

	// readSource loads FileSpec.Source from the controlling machine.
	readSource func(path string) ([]byte, error)

	mu             sync.Mutex
	packageManager string
	services       ServiceManager
	docker         DockerAPI
	dockerFactory  func(ctx context.Context) (DockerAPI, error)
}

var _ engine.ResourceApplier = (*Applier)(nil)

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Applier) {
		a.logger = logger
	}
}

// WithPackageManager skips package manager detection.
func WithPackageManager(name string) Option {
	return func(a *Applier) {
		a.packageManager = name
	}
}

// WithServiceManager sets the service backend. By default the local host
// uses systemd over D-Bus and remote hosts use systemctl.
func WithServiceManager(m ServiceManager) Option {
	return func(a *Applier) {
		a.services = m
	}
}

// WithDocker sets the Docker API client used for containers.
func WithDocker(api DockerAPI) Option {
	return func(a *Applier) {
		a.docker = api
	}
}

// WithSourceReader overrides how FileSpec.Source paths are read.
func WithSourceReader(read func(path string) ([]byte, error)) Option {
	return func(a *Applier) {
		a.readSource = read
	}
}

// New returns an Applier for host. Backends that need the target to be
// partly converged first, such as the Docker daemon, connect on first use.
func New(host transports.Host, opts ...Option) *Applier {
	a := &Applier{
		host:       host,
		logger:     zerolog.Nop(),
		readSource: os.ReadFile,
	}
	a.dockerFactory = func(ctx context.Context) (DockerAPI, error) {
		return NewDockerClient(host)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("host", host.Name()).Logger()
	return a
}

// Close releases backend connections. The host is owned by the caller.
func (a *Applier) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if c, ok := a.services.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.docker != nil {
		errs = append(errs, a.docker.Close())
	}
	return errors.Join(errs...)
}

// run executes cmd and fails on a non-zero exit.
func (a *Applier) run(ctx context.Context, cmd transports.Command) (transports.Result, error) {
	res, err := a.host.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	a.logger.Debug().
		Str("command", cmd.Line).
		Int("exit_code", res.ExitCode).
		Msg("Command finished")
	if !res.Success() {
		return res, &CommandError{Command: cmd.Line, ExitCode: res.ExitCode, Output: res.Output()}
	}
	return res, nil
}

// probe executes cmd and reports whether it exited 0.
func (a *Applier) probe(ctx context.Context, cmd transports.Command) (bool, error) {
	res, err := a.host.Run(ctx, cmd)
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

// resolveOwner maps owner and group names to ids. Empty names keep the
// current ids.
func (a *Applier) resolveOwner(ctx context.Context, owner, group string, cur transports.FileInfo) (int, int, error) {
	uid, gid := cur.UID, cur.GID
	if owner != "" {
		id, err := a.host.LookupUser(ctx, owner)
		if err != nil {
			return 0, 0, fmt.Errorf("resolve owner %s: %w", owner, err)
		}
		uid = id
	}
	if group != "" {
		id, err := a.host.LookupGroup(ctx, group)
		if err != nil {
			return 0, 0, fmt.Errorf("resolve group %s: %w", group, err)
		}
		gid = id
	}
	return uid, gid, nil
}
