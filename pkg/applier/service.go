package applier

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

// ServiceStatus is the observed state of a unit.
type ServiceStatus struct {
	Active  bool
	Enabled bool
}

// ServiceManager controls system services.
type ServiceManager interface {
	Status(ctx context.Context, name string) (ServiceStatus, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	DaemonReload(ctx context.Context) error
}

// EnsureService converges a service's enabled and running state. With
// refresh set, unit files are reloaded and a running service is restarted.
func (a *Applier) EnsureService(ctx context.Context, spec engine.ServiceSpec, refresh bool) (engine.Outcome, error) {
	out, err := a.ensureService(ctx, spec, refresh)
	return out, classify("ensure service", engine.ResourceID(engine.ResourceKindService, spec.Name), err)
}

func (a *Applier) ensureService(ctx context.Context, spec engine.ServiceSpec, refresh bool) (engine.Outcome, error) {
	mgr, err := a.serviceManager(ctx)
	if err != nil {
		return engine.Outcome{}, err
	}

	var changes []string

	if refresh {
		// A subscribed unit file may have changed.
		if err := mgr.DaemonReload(ctx); err != nil {
			return engine.Outcome{}, fmt.Errorf("daemon-reload: %w", err)
		}
	}

	st, err := mgr.Status(ctx, spec.Name)
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("get status of %s: %w", spec.Name, err)
	}

	switch {
	case spec.Enabled && !st.Enabled:
		if err := mgr.Enable(ctx, spec.Name); err != nil {
			return engine.Outcome{}, fmt.Errorf("enable %s: %w", spec.Name, err)
		}
		changes = append(changes, "enabled")
	case !spec.Enabled && st.Enabled:
		if err := mgr.Disable(ctx, spec.Name); err != nil {
			return engine.Outcome{}, fmt.Errorf("disable %s: %w", spec.Name, err)
		}
		changes = append(changes, "disabled")
	}

	switch {
	case spec.Running && refresh:
		if err := mgr.Restart(ctx, spec.Name); err != nil {
			return engine.Outcome{}, fmt.Errorf("restart %s: %w", spec.Name, err)
		}
		changes = append(changes, "restarted")
	case spec.Running && !st.Active:
		if err := mgr.Start(ctx, spec.Name); err != nil {
			return engine.Outcome{}, fmt.Errorf("start %s: %w", spec.Name, err)
		}
		changes = append(changes, "started")
	case !spec.Running && st.Active:
		if err := mgr.Stop(ctx, spec.Name); err != nil {
			return engine.Outcome{}, fmt.Errorf("stop %s: %w", spec.Name, err)
		}
		changes = append(changes, "stopped")
	}

	if len(changes) == 0 {
		return engine.Unchanged(), nil
	}
	return engine.Changed("%s", strings.Join(changes, ", ")), nil
}

// serviceManager picks the backend on first use. The local host talks to
// systemd over D-Bus when the bus is reachable.
func (a *Applier) serviceManager(ctx context.Context) (ServiceManager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.services != nil {
		return a.services, nil
	}

	if _, ok := a.host.(*transports.LocalHost); ok {
		bus, err := NewSystemdBus(ctx)
		if err == nil {
			a.services = bus
			return bus, nil
		}
		a.logger.Debug().Err(err).Msg("systemd D-Bus unavailable, falling back to systemctl")
	}

	a.services = NewSystemctl(a.host)
	return a.services, nil
}

// unitName appends the .service suffix to bare service names.
func unitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

// Systemctl manages services by running systemctl on a host.
type Systemctl struct {
	host transports.Host
}

// NewSystemctl returns a ServiceManager for host.
func NewSystemctl(host transports.Host) *Systemctl {
	return &Systemctl{host: host}
}

func (s *Systemctl) run(ctx context.Context, args ...string) (transports.Result, error) {
	return s.host.Run(ctx, transports.Command{Line: "systemctl " + quoteArgs(args)})
}

func (s *Systemctl) must(ctx context.Context, args ...string) error {
	res, err := s.run(ctx, args...)
	if err != nil {
		return err
	}
	if !res.Success() {
		return &CommandError{Command: "systemctl " + strings.Join(args, " "), ExitCode: res.ExitCode, Output: res.Output()}
	}
	return nil
}

// Status runs systemctl is-active and is-enabled.
func (s *Systemctl) Status(ctx context.Context, name string) (ServiceStatus, error) {
	unit := unitName(name)
	active, err := s.run(ctx, "is-active", "--quiet", unit)
	if err != nil {
		return ServiceStatus{}, err
	}
	enabled, err := s.run(ctx, "is-enabled", "--quiet", unit)
	if err != nil {
		return ServiceStatus{}, err
	}
	return ServiceStatus{Active: active.Success(), Enabled: enabled.Success()}, nil
}

// Start starts the unit.
func (s *Systemctl) Start(ctx context.Context, name string) error {
	return s.must(ctx, "start", unitName(name))
}

// Stop stops the unit.
func (s *Systemctl) Stop(ctx context.Context, name string) error {
	return s.must(ctx, "stop", unitName(name))
}

// Restart restarts the unit, starting it if stopped.
func (s *Systemctl) Restart(ctx context.Context, name string) error {
	return s.must(ctx, "restart", unitName(name))
}

// Enable enables the unit.
func (s *Systemctl) Enable(ctx context.Context, name string) error {
	return s.must(ctx, "enable", unitName(name))
}

// Disable disables the unit.
func (s *Systemctl) Disable(ctx context.Context, name string) error {
	return s.must(ctx, "disable", unitName(name))
}

// DaemonReload reloads unit files.
func (s *Systemctl) DaemonReload(ctx context.Context) error {
	return s.must(ctx, "daemon-reload")
}

// SystemdBus manages services through the systemd D-Bus API.
type SystemdBus struct {
	conn *dbus.Conn
}

// NewSystemdBus connects to the system bus.
func NewSystemdBus(ctx context.Context) (*SystemdBus, error) {
	conn, err := dbus.NewSystemdConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &SystemdBus{conn: conn}, nil
}

// Status reads ActiveState and UnitFileState.
func (b *SystemdBus) Status(ctx context.Context, name string) (ServiceStatus, error) {
	props, err := b.conn.GetUnitPropertiesContext(ctx, unitName(name))
	if err != nil {
		return ServiceStatus{}, fmt.Errorf("failed to get unit properties: %w", err)
	}
	active, _ := props["ActiveState"].(string)
	fileState, _ := props["UnitFileState"].(string)
	return ServiceStatus{
		Active:  active == "active",
		Enabled: fileState == "enabled",
	}, nil
}

// Start starts the unit and waits for the job to finish.
func (b *SystemdBus) Start(ctx context.Context, name string) error {
	return b.job(ctx, name, b.conn.StartUnitContext)
}

// Stop stops the unit and waits for the job to finish.
func (b *SystemdBus) Stop(ctx context.Context, name string) error {
	return b.job(ctx, name, b.conn.StopUnitContext)
}

// Restart restarts the unit and waits for the job to finish.
func (b *SystemdBus) Restart(ctx context.Context, name string) error {
	return b.job(ctx, name, b.conn.RestartUnitContext)
}

func (b *SystemdBus) job(
	ctx context.Context,
	name string,
	submit func(ctx context.Context, name, mode string, ch chan<- string) (int, error),
) error {
	ch := make(chan string, 1)
	if _, err := submit(ctx, unitName(name), "replace", ch); err != nil {
		return err
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("job for %s finished with result %q", unitName(name), result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enable enables the unit file and reloads the manager.
func (b *SystemdBus) Enable(ctx context.Context, name string) error {
	if _, _, err := b.conn.EnableUnitFilesContext(ctx, []string{unitName(name)}, false, true); err != nil {
		return err
	}
	return b.conn.ReloadContext(ctx)
}

// Disable disables the unit file and reloads the manager.
func (b *SystemdBus) Disable(ctx context.Context, name string) error {
	if _, err := b.conn.DisableUnitFilesContext(ctx, []string{unitName(name)}, false); err != nil {
		return err
	}
	return b.conn.ReloadContext(ctx)
}

// DaemonReload reloads unit files.
func (b *SystemdBus) DaemonReload(ctx context.Context) error {
	return b.conn.ReloadContext(ctx)
}

// Close closes the bus connection.
func (b *SystemdBus) Close() error {
	b.conn.Close()
	return nil
}
