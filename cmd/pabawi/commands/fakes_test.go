package commands

import (
	"context"
	"errors"

	"github.com/openfroyo/pabawi/pkg/engine"
)

// fakeApplier reports every resource unchanged, except those of failKind
// which fail.
type fakeApplier struct {
	failKind engine.ResourceKind
}

var _ engine.ResourceApplier = (*fakeApplier)(nil)

func (f *fakeApplier) outcome(kind engine.ResourceKind) (engine.Outcome, error) {
	if kind == f.failKind {
		return engine.Outcome{}, errors.New("simulated failure")
	}
	return engine.Unchanged(), nil
}

func (f *fakeApplier) EnsurePackage(context.Context, engine.PackageSpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindPackage)
}

func (f *fakeApplier) EnsureFile(context.Context, engine.FileSpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindFile)
}

func (f *fakeApplier) EnsureDirectory(context.Context, engine.DirectorySpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindDirectory)
}

func (f *fakeApplier) EnsureService(context.Context, engine.ServiceSpec, bool) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindService)
}

func (f *fakeApplier) EnsureRepository(context.Context, engine.RepositorySpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindRepository)
}

func (f *fakeApplier) RunCommand(context.Context, engine.CommandSpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindExec)
}

func (f *fakeApplier) EnsureContainer(context.Context, engine.ContainerSpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindContainer)
}

func (f *fakeApplier) GenerateSelfSignedCertificate(context.Context, engine.CertificateSpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindCertificate)
}

func (f *fakeApplier) EnsureUser(context.Context, engine.UserSpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindUser)
}

func (f *fakeApplier) EnsureGroup(context.Context, engine.GroupSpec) (engine.Outcome, error) {
	return f.outcome(engine.ResourceKindGroup)
}
