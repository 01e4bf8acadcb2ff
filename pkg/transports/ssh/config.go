package ssh

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// KeyPath is the path to the private key file
	KeyPath string

	// KeyPassphrase is the passphrase for encrypted private keys
	KeyPassphrase string

	// Password enables password and keyboard-interactive authentication
	Password string

	// KnownHostsPath is the path to the known_hosts file used to verify
	// the remote host key
	KnownHostsPath string

	// InsecureIgnoreHostKey skips host key verification. It must be set
	// explicitly; an empty KnownHostsPath is otherwise an error.
	InsecureIgnoreHostKey bool

	// Timeout bounds connection setup
	Timeout time.Duration

	// KeepAliveInterval is the interval for sending keep-alive messages
	// Set to 0 to disable keep-alive
	KeepAliveInterval time.Duration

	// MaxKeepAliveRetries is the maximum number of keep-alive retries before giving up
	MaxKeepAliveRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                host,
		Port:                22,
		User:                user,
		KnownHostsPath:      filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		Timeout:             30 * time.Second,
		KeepAliveInterval:   0, // Disabled by default
		MaxKeepAliveRetries: 3,
	}
}

// ParseTarget builds a Config from a target of the form
// ssh://user@host[:port]. A missing user defaults to root.
func ParseTarget(target string) (*Config, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if u.Scheme != "ssh" {
		return nil, fmt.Errorf("invalid target %q: scheme must be ssh", target)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid target %q: host is required", target)
	}

	user := "root"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}

	cfg := DefaultConfig(u.Hostname(), user)
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: bad port %q", target, p)
		}
		cfg.Port = port
	}
	return cfg, nil
}

// Validate checks if the configuration is valid. When neither a key nor a
// password is set it picks the first default key found under ~/.ssh.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	if c.KeyPath == "" && c.Password == "" {
		homeDir := os.Getenv("HOME")
		defaultKeys := []string{
			filepath.Join(homeDir, ".ssh", "id_ed25519"),
			filepath.Join(homeDir, ".ssh", "id_rsa"),
			filepath.Join(homeDir, ".ssh", "id_ecdsa"),
		}
		for _, keyPath := range defaultKeys {
			if _, err := os.Stat(keyPath); err == nil {
				c.KeyPath = keyPath
				break
			}
		}
		if c.KeyPath == "" {
			return fmt.Errorf("a private key or password is required and no default key was found")
		}
	}

	if c.KeyPath != "" {
		if _, err := os.Stat(c.KeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.KeyPath)
		}
	}

	if c.KnownHostsPath == "" && !c.InsecureIgnoreHostKey {
		return fmt.Errorf("known_hosts path is required unless host key checking is disabled")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if c.KeyPath != "" {
		keyBytes, err := os.ReadFile(c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers only offer keyboard-interactive for the
		// "Password:" prompt.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.Timeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
