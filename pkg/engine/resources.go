package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ResourceKind identifies the applier a resource is dispatched to.
type ResourceKind string

const (
	ResourceKindPackage     ResourceKind = "package"
	ResourceKindFile        ResourceKind = "file"
	ResourceKindDirectory   ResourceKind = "directory"
	ResourceKindService     ResourceKind = "service"
	ResourceKindExec        ResourceKind = "exec"
	ResourceKindRepository  ResourceKind = "repository"
	ResourceKindContainer   ResourceKind = "container"
	ResourceKindCertificate ResourceKind = "certificate"
	ResourceKindUser        ResourceKind = "user"
	ResourceKindGroup       ResourceKind = "group"
)

// DefaultFatal reports whether a failure of this kind halts a run unless
// the declaring component says otherwise. Infrastructure setup is fatal.
func (k ResourceKind) DefaultFatal() bool {
	switch k {
	case ResourceKindPackage, ResourceKindUser, ResourceKindGroup,
		ResourceKindDirectory, ResourceKindRepository, ResourceKindCertificate:
		return true
	default:
		return false
	}
}

// Validate checks if the resource kind is valid.
func (k ResourceKind) Validate() error {
	switch k {
	case ResourceKindPackage, ResourceKindFile, ResourceKindDirectory,
		ResourceKindService, ResourceKindExec, ResourceKindRepository,
		ResourceKindContainer, ResourceKindCertificate, ResourceKindUser,
		ResourceKindGroup:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// ResourceID builds the catalog identifier "kind:name".
func ResourceID(kind ResourceKind, name string) string {
	return string(kind) + ":" + name
}

// SplitResourceID is the inverse of ResourceID.
func SplitResourceID(id string) (ResourceKind, string, bool) {
	kind, name, ok := strings.Cut(id, ":")
	if !ok || name == "" {
		return "", "", false
	}
	return ResourceKind(kind), name, true
}

// Payload is the kind-specific desired state of a resource.
type Payload interface {
	// Kind returns the resource kind the payload describes.
	Kind() ResourceKind

	// ResourceName returns the name part of the resource identifier.
	ResourceName() string

	// Validate checks the payload's field constraints.
	Validate() error
}

// ResourceDecl is the desired state of one concrete resource.
type ResourceDecl struct {
	// ID is "kind:name" and unique within a catalog.
	ID string `json:"id"`

	// Kind selects the applier.
	Kind ResourceKind `json:"kind"`

	// Payload holds the kind-specific attributes.
	Payload Payload `json:"payload"`

	// After lists resource IDs that must converge before this one.
	After []string `json:"after,omitempty"`

	// Fatal halts the run when this resource fails.
	Fatal bool `json:"fatal"`

	// Owner is the component that declared the resource. Set by the compiler.
	Owner string `json:"owner"`
}

// Declare wraps a payload in a ResourceDecl with the kind's default fatality.
func Declare(p Payload) ResourceDecl {
	return ResourceDecl{
		ID:      ResourceID(p.Kind(), p.ResourceName()),
		Kind:    p.Kind(),
		Payload: p,
		Fatal:   p.Kind().DefaultFatal(),
	}
}

// Following returns a copy of r that must converge after ids.
func (r ResourceDecl) Following(ids ...string) ResourceDecl {
	after := make([]string, 0, len(r.After)+len(ids))
	after = append(after, r.After...)
	after = append(after, ids...)
	r.After = after
	return r
}

// Critical returns a copy of r whose failure halts the run.
func (r ResourceDecl) Critical() ResourceDecl {
	r.Fatal = true
	return r
}

// NonFatal returns a copy of r whose failure is recorded but does not halt
// the run.
func (r ResourceDecl) NonFatal() ResourceDecl {
	r.Fatal = false
	return r
}

var (
	payloadValidator     *validator.Validate
	payloadValidatorOnce sync.Once
)

func validatePayload(p any) error {
	payloadValidatorOnce.Do(func() {
		payloadValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return payloadValidator.Struct(p)
}

// PackageSpec declares a system package.
type PackageSpec struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version,omitempty"`
	// Ensure is present, absent or latest. Empty means present.
	Ensure string `json:"ensure,omitempty" validate:"omitempty,oneof=present absent latest"`
}

func (s *PackageSpec) Kind() ResourceKind   { return ResourceKindPackage }
func (s *PackageSpec) ResourceName() string { return s.Name }
func (s *PackageSpec) Validate() error      { return validatePayload(s) }

// FileSpec declares a regular file. Exactly one of Content and Source is used.
type FileSpec struct {
	Path    string `json:"path" validate:"required,startswith=/"`
	Mode    uint32 `json:"mode" validate:"lte=4095"`
	Owner   string `json:"owner,omitempty"`
	Group   string `json:"group,omitempty"`
	Content string `json:"content,omitempty" validate:"excluded_with=Source"`
	// Source is a path on the controlling machine whose content is copied.
	Source string `json:"source,omitempty"`
}

func (s *FileSpec) Kind() ResourceKind   { return ResourceKindFile }
func (s *FileSpec) ResourceName() string { return s.Path }
func (s *FileSpec) Validate() error      { return validatePayload(s) }

// DirectorySpec declares a directory.
type DirectorySpec struct {
	Path  string `json:"path" validate:"required,startswith=/"`
	Mode  uint32 `json:"mode" validate:"lte=4095"`
	Owner string `json:"owner,omitempty"`
	Group string `json:"group,omitempty"`
}

func (s *DirectorySpec) Kind() ResourceKind   { return ResourceKindDirectory }
func (s *DirectorySpec) ResourceName() string { return s.Path }
func (s *DirectorySpec) Validate() error      { return validatePayload(s) }

// ServiceSpec declares a system service.
type ServiceSpec struct {
	Name    string `json:"name" validate:"required"`
	Running bool   `json:"running"`
	Enabled bool   `json:"enabled"`
	// Subscribe lists resource IDs whose change triggers a restart.
	Subscribe []string `json:"subscribe,omitempty"`
}

func (s *ServiceSpec) Kind() ResourceKind   { return ResourceKindService }
func (s *ServiceSpec) ResourceName() string { return s.Name }
func (s *ServiceSpec) Validate() error      { return validatePayload(s) }

// RepositorySpec declares a git checkout.
type RepositorySpec struct {
	Path     string `json:"path" validate:"required,startswith=/"`
	URL      string `json:"url" validate:"required"`
	Revision string `json:"revision,omitempty"`
	User     string `json:"user,omitempty"`
}

func (s *RepositorySpec) Kind() ResourceKind   { return ResourceKindRepository }
func (s *RepositorySpec) ResourceName() string { return s.Path }
func (s *RepositorySpec) Validate() error      { return validatePayload(s) }

// Guard makes a command idempotent. The command is skipped when Creates
// exists, when Unless succeeds, or when OnlyIf fails.
type Guard struct {
	Creates string `json:"creates,omitempty"`
	Unless  string `json:"unless,omitempty"`
	OnlyIf  string `json:"only_if,omitempty"`
}

// IsZero reports whether no guard condition is set.
func (g Guard) IsZero() bool {
	return g.Creates == "" && g.Unless == "" && g.OnlyIf == ""
}

// CommandSpec declares an imperative step.
type CommandSpec struct {
	// Name identifies the step in the catalog.
	Name    string            `json:"name" validate:"required"`
	Command string            `json:"command" validate:"required"`
	Cwd     string            `json:"cwd,omitempty"`
	User    string            `json:"user,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Guard   Guard             `json:"guard"`
}

func (s *CommandSpec) Kind() ResourceKind   { return ResourceKindExec }
func (s *CommandSpec) ResourceName() string { return s.Name }
func (s *CommandSpec) Validate() error      { return validatePayload(s) }

// ContainerSpec declares a long-running container.
type ContainerSpec struct {
	Name          string            `json:"name" validate:"required"`
	Image         string            `json:"image" validate:"required"`
	Env           map[string]string `json:"env,omitempty"`
	Volumes       []string          `json:"volumes,omitempty" validate:"dive,contains=:"`
	Ports         []string          `json:"ports,omitempty" validate:"dive,contains=:"`
	RestartPolicy string            `json:"restart_policy,omitempty" validate:"omitempty,oneof=no always unless-stopped on-failure"`
}

func (s *ContainerSpec) Kind() ResourceKind   { return ResourceKindContainer }
func (s *ContainerSpec) ResourceName() string { return s.Name }
func (s *ContainerSpec) Validate() error      { return validatePayload(s) }

// CertificateSpec declares a self-signed certificate and key pair.
type CertificateSpec struct {
	CommonName string `json:"common_name" validate:"required"`
	CertPath   string `json:"cert_path" validate:"required,startswith=/"`
	KeyPath    string `json:"key_path" validate:"required,startswith=/,nefield=CertPath"`
	ValidDays  int    `json:"valid_days" validate:"gt=0"`
}

func (s *CertificateSpec) Kind() ResourceKind   { return ResourceKindCertificate }
func (s *CertificateSpec) ResourceName() string { return s.CertPath }
func (s *CertificateSpec) Validate() error      { return validatePayload(s) }

// UserSpec declares a local account.
type UserSpec struct {
	Name   string `json:"name" validate:"required"`
	Group  string `json:"group,omitempty"`
	Home   string `json:"home,omitempty" validate:"omitempty,startswith=/"`
	Shell  string `json:"shell,omitempty"`
	System bool   `json:"system"`
}

func (s *UserSpec) Kind() ResourceKind   { return ResourceKindUser }
func (s *UserSpec) ResourceName() string { return s.Name }
func (s *UserSpec) Validate() error      { return validatePayload(s) }

// GroupSpec declares a local group.
type GroupSpec struct {
	Name   string `json:"name" validate:"required"`
	System bool   `json:"system"`
}

func (s *GroupSpec) Kind() ResourceKind   { return ResourceKindGroup }
func (s *GroupSpec) ResourceName() string { return s.Name }
func (s *GroupSpec) Validate() error      { return validatePayload(s) }
