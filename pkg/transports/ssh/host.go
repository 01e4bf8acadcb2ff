// Package ssh provides a transports.Host over SSH. Commands run in SSH
// sessions and file operations go through SFTP.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/pabawi/pkg/transports"
)

// Host converges resources on a remote machine.
type Host struct {
	config *Config
	client *ssh.Client
	sftp   *sftp.Client

	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ transports.Host   = (*Host)(nil)
	_ transports.Dialer = (*Host)(nil)
)

// NewHost validates cfg, connects and opens an SFTP session.
func NewHost(ctx context.Context, cfg Config) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, &transports.TransportError{Op: "connect", Host: cfg.Address(), Err: err, IsAuthError: true}
	}

	client, err := dial(ctx, &cfg, clientConfig)
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, &transports.TransportError{
			Op:          "sftp-init",
			Host:        cfg.Address(),
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	h := &Host{
		config: &cfg,
		client: client,
		sftp:   sftpClient,
		done:   make(chan struct{}),
	}

	if cfg.KeepAliveInterval > 0 {
		go h.keepAlive()
	}

	log.Info().Str("address", cfg.Address()).Msg("SSH connection established")
	return h, nil
}

// dial connects honoring ctx and the configured timeout.
func dial(ctx context.Context, cfg *Config, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	address := cfg.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &transports.TransportError{Op: "connect", Host: address, Err: err, IsTemporary: true}
	}

	// The handshake itself has no context; bound it by the deadline.
	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, &transports.TransportError{
			Op:          "handshake",
			Host:        address,
			Err:         err,
			IsAuthError: strings.Contains(err.Error(), "unable to authenticate"),
		}
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(ncc, chans, reqs), nil
}

// Name returns user@host:port.
func (h *Host) Name() string {
	return h.config.User + "@" + h.config.Address()
}

// Run executes cmd in a new session.
func (h *Host) Run(ctx context.Context, cmd transports.Command) (transports.Result, error) {
	startTime := time.Now()

	session, err := h.client.NewSession()
	if err != nil {
		return transports.Result{}, h.fail("run", fmt.Errorf("failed to create session: %w", err), true)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	line := cmd.Shell()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(line)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-doneChan
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	res := transports.Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}

	log.Debug().
		Str("host", h.config.Host).
		Str("command", cmd.Line).
		Dur("duration", time.Since(startTime)).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, h.fail("run", execErr, true)
	}
	return res, nil
}

// ReadFile reads a remote file.
func (h *Host) ReadFile(_ context.Context, p string) ([]byte, error) {
	f, err := h.sftp.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile uploads data to a temporary file next to p and renames it
// into place.
func (h *Host) WriteFile(ctx context.Context, p string, data []byte, mode fs.FileMode) error {
	tmp := path.Join(path.Dir(p), "."+path.Base(p)+".pabawi-"+strconv.FormatInt(time.Now().UnixNano(), 36))

	f, err := h.sftp.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := copyWithContext(ctx, f, bytes.NewReader(data)); err != nil {
		f.Close()
		_ = h.sftp.Remove(tmp)
		return err
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		_ = h.sftp.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = h.sftp.Remove(tmp)
		return err
	}
	if err := h.sftp.PosixRename(tmp, p); err != nil {
		_ = h.sftp.Remove(tmp)
		return err
	}
	return nil
}

// Stat describes a remote path.
func (h *Host) Stat(_ context.Context, p string) (transports.FileInfo, error) {
	fi, err := h.sftp.Stat(p)
	if err != nil {
		return transports.FileInfo{}, err
	}
	info := transports.FileInfo{
		Mode:  fi.Mode(),
		IsDir: fi.IsDir(),
		Size:  fi.Size(),
		UID:   -1,
		GID:   -1,
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		info.UID = int(st.UID)
		info.GID = int(st.GID)
	}
	return info, nil
}

// MkdirAll creates p and any missing parents. mode is applied to p when
// it is created.
func (h *Host) MkdirAll(_ context.Context, p string, mode fs.FileMode) error {
	if _, err := h.sftp.Stat(p); err == nil {
		return nil
	}
	if err := h.sftp.MkdirAll(p); err != nil {
		return err
	}
	return h.sftp.Chmod(p, mode)
}

// Chmod sets the permission bits of p.
func (h *Host) Chmod(_ context.Context, p string, mode fs.FileMode) error {
	return h.sftp.Chmod(p, mode)
}

// Chown sets the owner and group of p.
func (h *Host) Chown(_ context.Context, p string, uid, gid int) error {
	return h.sftp.Chown(p, uid, gid)
}

// LookupUser resolves name with getent on the remote host.
func (h *Host) LookupUser(ctx context.Context, name string) (int, error) {
	return h.getent(ctx, "passwd", name, transports.ErrUnknownUser)
}

// LookupGroup resolves name with getent on the remote host.
func (h *Host) LookupGroup(ctx context.Context, name string) (int, error) {
	return h.getent(ctx, "group", name, transports.ErrUnknownGroup)
}

func (h *Host) getent(ctx context.Context, db, name string, unknown error) (int, error) {
	res, err := h.Run(ctx, transports.Command{Line: "getent " + db + " " + transports.Quote(name)})
	if err != nil {
		return 0, err
	}
	// getent exits 2 when the key is not found.
	if res.ExitCode == 2 {
		return 0, fmt.Errorf("%w: %s", unknown, name)
	}
	if !res.Success() {
		return 0, fmt.Errorf("getent %s %s: exit %d: %s", db, name, res.ExitCode, res.Output())
	}
	return ParseGetentID(res.Stdout)
}

// ParseGetentID extracts the numeric id (third field) from a passwd or
// group database line.
func ParseGetentID(line string) (int, error) {
	line = strings.TrimSpace(line)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Split(line, ":")
	if len(fields) < 3 {
		return 0, fmt.Errorf("malformed getent line %q", line)
	}
	id, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, fmt.Errorf("malformed getent id %q: %w", fields[2], err)
	}
	return id, nil
}

// DialContext opens a connection from the remote machine, tunnelled over
// the SSH connection.
func (h *Host) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := h.client.DialContext(ctx, network, addr)
	if err != nil {
		return nil, h.fail("dial "+addr, err, false)
	}
	return conn, nil
}

// Close closes the SFTP session and the connection.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		log.Debug().Str("host", h.config.Host).Msg("closing SSH connection")
		err = errors.Join(h.sftp.Close(), h.client.Close())
	})
	return err
}

// keepAlive sends periodic keep-alive messages until the host is closed.
func (h *Host) keepAlive() {
	ticker := time.NewTicker(h.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		_, _, err := h.client.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= h.config.MaxKeepAliveRetries {
				log.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

func (h *Host) fail(op string, err error, temporary bool) error {
	return &transports.TransportError{Op: op, Host: h.config.Address(), Err: err, IsTemporary: temporary}
}

// copyWithContext copies in chunks, checking ctx between them.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
