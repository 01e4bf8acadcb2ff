package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/pabawi/pkg/telemetry"
)

// fakeApplier converges an in-memory view of the host so a second apply of
// the same catalog reports every resource unchanged.
type fakeApplier struct {
	mu sync.Mutex

	state    map[string]string
	calls    []string
	restarts []string
	fail     map[string]error
	onApply  func(id string)
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		state: make(map[string]string),
		fail:  make(map[string]error),
	}
}

func (f *fakeApplier) converge(id, desired string) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, id)
	if f.onApply != nil {
		f.onApply(id)
	}
	if err := f.fail[id]; err != nil {
		return Outcome{}, err
	}
	if current, ok := f.state[id]; ok && current == desired {
		return Unchanged(), nil
	}
	f.state[id] = desired
	return Changed("set %s", id), nil
}

func (f *fakeApplier) EnsurePackage(_ context.Context, spec PackageSpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindPackage, spec.Name), spec.Version+spec.Ensure)
}

func (f *fakeApplier) EnsureFile(_ context.Context, spec FileSpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindFile, spec.Path), fmt.Sprintf("%o:%s", spec.Mode, spec.Content))
}

func (f *fakeApplier) EnsureDirectory(_ context.Context, spec DirectorySpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindDirectory, spec.Path), fmt.Sprintf("%o", spec.Mode))
}

func (f *fakeApplier) EnsureService(_ context.Context, spec ServiceSpec, refresh bool) (Outcome, error) {
	id := ResourceID(ResourceKindService, spec.Name)
	out, err := f.converge(id, fmt.Sprintf("%t:%t", spec.Running, spec.Enabled))
	if err != nil {
		return out, err
	}
	if refresh {
		f.mu.Lock()
		f.restarts = append(f.restarts, spec.Name)
		f.mu.Unlock()
		return Changed("restarted %s", spec.Name), nil
	}
	return out, nil
}

func (f *fakeApplier) EnsureRepository(_ context.Context, spec RepositorySpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindRepository, spec.Path), spec.URL+"@"+spec.Revision)
}

func (f *fakeApplier) RunCommand(_ context.Context, spec CommandSpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindExec, spec.Name), spec.Command)
}

func (f *fakeApplier) EnsureContainer(_ context.Context, spec ContainerSpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindContainer, spec.Name), spec.Image)
}

func (f *fakeApplier) GenerateSelfSignedCertificate(_ context.Context, spec CertificateSpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindCertificate, spec.CertPath), spec.CommonName)
}

func (f *fakeApplier) EnsureUser(_ context.Context, spec UserSpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindUser, spec.Name), spec.Home)
}

func (f *fakeApplier) EnsureGroup(_ context.Context, spec GroupSpec) (Outcome, error) {
	return f.converge(ResourceID(ResourceKindGroup, spec.Name), spec.Name)
}

func (f *fakeApplier) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

// Mock event publisher for testing
type mockEventPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (m *mockEventPublisher) Publish(event telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// Mock metrics recorder for testing
type mockMetrics struct {
	mu        sync.Mutex
	resources map[string]int
	runs      map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{resources: make(map[string]int), runs: make(map[string]int)}
}

func (m *mockMetrics) RecordResourceApplied(kind, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[kind+"/"+outcome]++
}

func (m *mockMetrics) RecordRunCompleted(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[status]++
}

// testSpec builds a component spec whose build declares the given
// resources.
func testSpec(name string, kind ComponentKind, resources ...ResourceDecl) ComponentSpec {
	return ComponentSpec{
		Name: name,
		Kind: kind,
		Build: func(Params) (*BuildResult, error) {
			out := make([]ResourceDecl, len(resources))
			copy(out, resources)
			return &BuildResult{Resources: out}, nil
		},
	}
}

// instance binds spec with no parameters at the given declaration index.
func instance(spec ComponentSpec, index int) *ComponentInstance {
	s := spec
	return &ComponentInstance{Spec: &s, Params: Params{}, Index: index, Ref: RefExplicit}
}
