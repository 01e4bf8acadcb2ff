package applier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/openfroyo/pabawi/pkg/transports"
)

type fakeFile struct {
	data  []byte
	mode  fs.FileMode
	isDir bool
	uid   int
	gid   int
}

// fakeHost keeps files and accounts in memory and answers commands through
// handle. Unhandled commands succeed with no output.
type fakeHost struct {
	mu sync.Mutex

	files    map[string]*fakeFile
	users    map[string]int
	groups   map[string]int
	commands []transports.Command
	handle   func(cmd transports.Command) transports.Result
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		files:  make(map[string]*fakeFile),
		users:  map[string]int{"root": 0},
		groups: map[string]int{"root": 0},
	}
}

func (h *fakeHost) Name() string { return "fake" }

func (h *fakeHost) Close() error { return nil }

func (h *fakeHost) Run(_ context.Context, cmd transports.Command) (transports.Result, error) {
	h.mu.Lock()
	h.commands = append(h.commands, cmd)
	handle := h.handle
	h.mu.Unlock()

	if handle == nil {
		return transports.Result{}, nil
	}
	return handle(cmd), nil
}

// lines returns the command lines run so far.
func (h *fakeHost) lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines := make([]string, len(h.commands))
	for i, cmd := range h.commands {
		lines[i] = cmd.Line
	}
	return lines
}

// ran reports whether a command line starting with prefix was run.
func (h *fakeHost) ran(prefix string) bool {
	for _, line := range h.lines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func (h *fakeHost) notExist(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
}

func (h *fakeHost) ReadFile(_ context.Context, p string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[p]
	if !ok || f.isDir {
		return nil, h.notExist("open", p)
	}
	return bytes.Clone(f.data), nil
}

func (h *fakeHost) WriteFile(_ context.Context, p string, data []byte, mode fs.FileMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[p]
	if !ok {
		f = &fakeFile{}
		h.files[p] = f
	}
	f.data = bytes.Clone(data)
	f.mode = mode
	return nil
}

func (h *fakeHost) Stat(_ context.Context, p string) (transports.FileInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[p]
	if !ok {
		return transports.FileInfo{}, h.notExist("stat", p)
	}
	mode := f.mode
	if f.isDir {
		mode |= fs.ModeDir
	}
	return transports.FileInfo{
		Mode:  mode,
		IsDir: f.isDir,
		Size:  int64(len(f.data)),
		UID:   f.uid,
		GID:   f.gid,
	}, nil
}

func (h *fakeHost) MkdirAll(_ context.Context, p string, mode fs.FileMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.files[p]; ok {
		if !f.isDir {
			return fmt.Errorf("mkdir %s: not a directory", p)
		}
		return nil
	}
	h.files[p] = &fakeFile{mode: mode, isDir: true}
	return nil
}

func (h *fakeHost) Chmod(_ context.Context, p string, mode fs.FileMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[p]
	if !ok {
		return h.notExist("chmod", p)
	}
	f.mode = mode.Perm()
	return nil
}

func (h *fakeHost) Chown(_ context.Context, p string, uid, gid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[p]
	if !ok {
		return h.notExist("chown", p)
	}
	f.uid, f.gid = uid, gid
	return nil
}

func (h *fakeHost) LookupUser(_ context.Context, name string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.users[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", transports.ErrUnknownUser, name)
	}
	return id, nil
}

func (h *fakeHost) LookupGroup(_ context.Context, name string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.groups[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", transports.ErrUnknownGroup, name)
	}
	return id, nil
}

func (h *fakeHost) addFile(p, content string, mode fs.FileMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[p] = &fakeFile{data: []byte(content), mode: mode}
}

func (h *fakeHost) addDir(p string, mode fs.FileMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[p] = &fakeFile{mode: mode, isDir: true}
}

func (h *fakeHost) file(p string) *fakeFile {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.files[p]
}

func exit(code int, stdout string) transports.Result {
	return transports.Result{Stdout: stdout, ExitCode: code}
}

// fakeServices records calls against an in-memory unit table.
type fakeServices struct {
	units   map[string]ServiceStatus
	calls   []string
	failOn  string
	reloads int
}

func newFakeServices() *fakeServices {
	return &fakeServices{units: make(map[string]ServiceStatus)}
}

func (s *fakeServices) record(call, name string) error {
	s.calls = append(s.calls, call+" "+name)
	if s.failOn == call {
		return fmt.Errorf("%s %s failed", call, name)
	}
	return nil
}

func (s *fakeServices) Status(_ context.Context, name string) (ServiceStatus, error) {
	return s.units[name], nil
}

func (s *fakeServices) Start(_ context.Context, name string) error {
	if err := s.record("start", name); err != nil {
		return err
	}
	st := s.units[name]
	st.Active = true
	s.units[name] = st
	return nil
}

func (s *fakeServices) Stop(_ context.Context, name string) error {
	if err := s.record("stop", name); err != nil {
		return err
	}
	st := s.units[name]
	st.Active = false
	s.units[name] = st
	return nil
}

func (s *fakeServices) Restart(_ context.Context, name string) error {
	if err := s.record("restart", name); err != nil {
		return err
	}
	st := s.units[name]
	st.Active = true
	s.units[name] = st
	return nil
}

func (s *fakeServices) Enable(_ context.Context, name string) error {
	if err := s.record("enable", name); err != nil {
		return err
	}
	st := s.units[name]
	st.Enabled = true
	s.units[name] = st
	return nil
}

func (s *fakeServices) Disable(_ context.Context, name string) error {
	if err := s.record("disable", name); err != nil {
		return err
	}
	st := s.units[name]
	st.Enabled = false
	s.units[name] = st
	return nil
}

func (s *fakeServices) DaemonReload(_ context.Context) error {
	s.reloads++
	return nil
}

// fakeDocker is an in-memory daemon. Creating a container from an image
// that was never pulled fails with NotFound like the real API.
type fakeDocker struct {
	containers map[string]*container.InspectResponse
	images     map[string]bool
	calls      []string
	closed     bool
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		containers: make(map[string]*container.InspectResponse),
		images:     make(map[string]bool),
	}
}

func (d *fakeDocker) ContainerInspect(_ context.Context, name string) (container.InspectResponse, error) {
	c, ok := d.containers[name]
	if !ok {
		return container.InspectResponse{}, fmt.Errorf("no such container %s: %w", name, errdefs.ErrNotFound)
	}
	return *c, nil
}

func (d *fakeDocker) ContainerCreate(
	_ context.Context,
	config *container.Config,
	hostConfig *container.HostConfig,
	_ *network.NetworkingConfig,
	_ *ocispec.Platform,
	name string,
) (container.CreateResponse, error) {
	d.calls = append(d.calls, "create "+name)
	if !d.images[config.Image] {
		return container.CreateResponse{}, fmt.Errorf("no such image %s: %w", config.Image, errdefs.ErrNotFound)
	}
	if _, ok := d.containers[name]; ok {
		return container.CreateResponse{}, fmt.Errorf("container %s: %w", name, errdefs.ErrConflict)
	}

	// The image contributes environment entries of its own.
	cfg := *config
	cfg.Env = append([]string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}, config.Env...)

	d.containers[name] = &container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			Name:       "/" + name,
			HostConfig: hostConfig,
			State:      &container.State{},
		},
		Config: &cfg,
	}
	return container.CreateResponse{ID: name}, nil
}

func (d *fakeDocker) ContainerStart(_ context.Context, name string, _ container.StartOptions) error {
	d.calls = append(d.calls, "start "+name)
	c, ok := d.containers[name]
	if !ok {
		return fmt.Errorf("no such container %s: %w", name, errdefs.ErrNotFound)
	}
	c.State.Running = true
	return nil
}

func (d *fakeDocker) ContainerStop(_ context.Context, name string, _ container.StopOptions) error {
	d.calls = append(d.calls, "stop "+name)
	c, ok := d.containers[name]
	if !ok {
		return fmt.Errorf("no such container %s: %w", name, errdefs.ErrNotFound)
	}
	c.State.Running = false
	return nil
}

func (d *fakeDocker) ContainerRemove(_ context.Context, name string, _ container.RemoveOptions) error {
	d.calls = append(d.calls, "remove "+name)
	if _, ok := d.containers[name]; !ok {
		return fmt.Errorf("no such container %s: %w", name, errdefs.ErrNotFound)
	}
	delete(d.containers, name)
	return nil
}

func (d *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	d.calls = append(d.calls, "pull "+ref)
	d.images[ref] = true
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

func (d *fakeDocker) Close() error {
	d.closed = true
	return nil
}
