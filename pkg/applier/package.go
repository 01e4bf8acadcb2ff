package applier

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

// Supported package managers.
const (
	PackageManagerApt    = "apt"
	PackageManagerDnf    = "dnf"
	PackageManagerYum    = "yum"
	PackageManagerZypper = "zypper"
)

// EnsurePackage installs, upgrades or removes a system package.
func (a *Applier) EnsurePackage(ctx context.Context, spec engine.PackageSpec) (engine.Outcome, error) {
	out, err := a.ensurePackage(ctx, spec)
	return out, classify("ensure package", engine.ResourceID(engine.ResourceKindPackage, spec.Name), err)
}

func (a *Applier) ensurePackage(ctx context.Context, spec engine.PackageSpec) (engine.Outcome, error) {
	manager, err := a.detectPackageManager(ctx)
	if err != nil {
		return engine.Outcome{}, err
	}

	installed, current, err := a.queryPackage(ctx, manager, spec.Name)
	if err != nil {
		return engine.Outcome{}, err
	}

	switch spec.Ensure {
	case "", "present":
		if installed && (spec.Version == "" || versionMatches(current, spec.Version)) {
			return engine.Unchanged(), nil
		}
		if err := a.installPackage(ctx, manager, spec.Name, spec.Version); err != nil {
			return engine.Outcome{}, err
		}
		if installed {
			return engine.Changed("changed version from %s to %s", current, spec.Version), nil
		}
		_, version, _ := a.queryPackage(ctx, manager, spec.Name)
		return engine.Changed("installed %s", version), nil

	case "absent":
		if !installed {
			return engine.Unchanged(), nil
		}
		if err := a.removePackage(ctx, manager, spec.Name); err != nil {
			return engine.Outcome{}, err
		}
		return engine.Changed("removed %s", current), nil

	case "latest":
		if !installed {
			if err := a.installPackage(ctx, manager, spec.Name, ""); err != nil {
				return engine.Outcome{}, err
			}
			_, version, _ := a.queryPackage(ctx, manager, spec.Name)
			return engine.Changed("installed %s", version), nil
		}
		if err := a.upgradePackage(ctx, manager, spec.Name); err != nil {
			return engine.Outcome{}, err
		}
		_, version, err := a.queryPackage(ctx, manager, spec.Name)
		if err != nil {
			return engine.Outcome{}, err
		}
		if version == current {
			return engine.Unchanged(), nil
		}
		return engine.Changed("upgraded from %s to %s", current, version), nil

	default:
		return engine.Outcome{}, fmt.Errorf("invalid ensure value: %s", spec.Ensure)
	}
}

// versionMatches accepts an exact match or an rpm VERSION-RELEASE whose
// VERSION is the requested one.
func versionMatches(current, want string) bool {
	return current == want || strings.HasPrefix(current, want+"-")
}

// detectPackageManager probes the host once and caches the result.
func (a *Applier) detectPackageManager(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.packageManager != "" {
		return a.packageManager, nil
	}

	probes := []struct {
		binary  string
		manager string
	}{
		{"apt-get", PackageManagerApt},
		{"dnf", PackageManagerDnf},
		{"yum", PackageManagerYum},
		{"zypper", PackageManagerZypper},
	}
	for _, p := range probes {
		ok, err := a.probe(ctx, transports.Command{Line: "command -v " + p.binary})
		if err != nil {
			return "", err
		}
		if ok {
			a.packageManager = p.manager
			a.logger.Debug().Str("manager", p.manager).Msg("Detected package manager")
			return p.manager, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found on %s", a.host.Name())
}

func (a *Applier) queryPackage(ctx context.Context, manager, name string) (bool, string, error) {
	var line string
	switch manager {
	case PackageManagerApt:
		line = "dpkg-query -W -f='${Status} ${Version}' " + transports.Quote(name)
	case PackageManagerDnf, PackageManagerYum, PackageManagerZypper:
		line = "rpm -q --queryformat '%{VERSION}-%{RELEASE}' " + transports.Quote(name)
	default:
		return false, "", fmt.Errorf("unsupported package manager: %s", manager)
	}

	res, err := a.host.Run(ctx, transports.Command{Line: line})
	if err != nil {
		return false, "", err
	}
	if !res.Success() {
		return false, "", nil
	}

	out := strings.TrimSpace(res.Stdout)
	if manager == PackageManagerApt {
		// dpkg keeps records of removed packages whose config files remain.
		const installedStatus = "install ok installed "
		if !strings.HasPrefix(out, installedStatus) {
			return false, "", nil
		}
		return true, strings.TrimPrefix(out, installedStatus), nil
	}
	return true, out, nil
}

func (a *Applier) installPackage(ctx context.Context, manager, name, version string) error {
	pkgSpec := name
	if version != "" {
		switch manager {
		case PackageManagerApt:
			pkgSpec = name + "=" + version
		case PackageManagerDnf, PackageManagerYum:
			pkgSpec = name + "-" + version
		case PackageManagerZypper:
			pkgSpec = name + "=" + version
		}
	}

	var line string
	switch manager {
	case PackageManagerApt:
		line = "apt-get install -y -q " + transports.Quote(pkgSpec)
	case PackageManagerDnf, PackageManagerYum:
		line = manager + " install -y " + transports.Quote(pkgSpec)
	case PackageManagerZypper:
		line = "zypper --non-interactive install " + transports.Quote(pkgSpec)
	default:
		return fmt.Errorf("unsupported package manager: %s", manager)
	}

	_, err := a.run(ctx, packageCommand(manager, line))
	return err
}

func (a *Applier) removePackage(ctx context.Context, manager, name string) error {
	var line string
	switch manager {
	case PackageManagerApt:
		line = "apt-get remove -y -q " + transports.Quote(name)
	case PackageManagerDnf, PackageManagerYum:
		line = manager + " remove -y " + transports.Quote(name)
	case PackageManagerZypper:
		line = "zypper --non-interactive remove " + transports.Quote(name)
	default:
		return fmt.Errorf("unsupported package manager: %s", manager)
	}

	_, err := a.run(ctx, packageCommand(manager, line))
	return err
}

func (a *Applier) upgradePackage(ctx context.Context, manager, name string) error {
	var line string
	switch manager {
	case PackageManagerApt:
		line = "apt-get install -y -q --only-upgrade " + transports.Quote(name)
	case PackageManagerDnf, PackageManagerYum:
		line = manager + " upgrade -y " + transports.Quote(name)
	case PackageManagerZypper:
		line = "zypper --non-interactive update " + transports.Quote(name)
	default:
		return fmt.Errorf("unsupported package manager: %s", manager)
	}

	_, err := a.run(ctx, packageCommand(manager, line))
	return err
}

func packageCommand(manager, line string) transports.Command {
	cmd := transports.Command{Line: line}
	if manager == PackageManagerApt {
		cmd.Env = map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
	}
	return cmd
}
