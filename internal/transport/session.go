package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/netfleet/upgrade-orchestrator/internal/models"
)

// DeviceSession is one open command session to a device. A session is owned
// exclusively by a single operation for its entire run.
type DeviceSession interface {
	Run(ctx context.Context, command string) (CommandResult, error)
	RunConfig(ctx context.Context, lines []string, stopOnFailed bool) error
	Close() error
}

// CommandResult holds the outcome of a single remote command. Failed covers
// device-side rejection of an accepted command; transport faults surface as
// errors instead.
type CommandResult struct {
	Command string
	Raw     string
	Failed  bool
}

// Dialer opens device sessions. The SSH dialer is the production
// implementation; tests substitute their own.
type Dialer interface {
	Open(ctx context.Context, params models.ConnectionParameters) (DeviceSession, error)
}

// legacy negotiation additions for devices running older SSH stacks
var (
	legacyKexAlgorithms = []string{
		"diffie-hellman-group1-sha1",
		"diffie-hellman-group-exchange-sha1",
		"diffie-hellman-group14-sha1",
	}
	legacyCiphers           = []string{"aes128-cbc", "3des-cbc"}
	legacyHostKeyAlgorithms = []string{"ssh-rsa", "ssh-dss"}
)

var (
	promptRe       = regexp.MustCompile(`(?m)^[\w.\-/()]+[#>]\s*$`)
	commandErrorRe = regexp.MustCompile(`(?m)^%\s?(Invalid input|Error|Incomplete|Ambiguous|Bad)`)
)

// SSHDialer opens sessions over SSH using golang.org/x/crypto/ssh.
type SSHDialer struct {
	logger zerolog.Logger
}

// NewSSHDialer creates a new SSHDialer.
func NewSSHDialer(logger zerolog.Logger) *SSHDialer {
	return &SSHDialer{logger: logger}
}

// Open dials the device, requests an interactive shell, disables paging and
// enters privileged mode. The returned session must be closed by the caller
// on every exit path.
func (d *SSHDialer) Open(ctx context.Context, params models.ConnectionParameters) (DeviceSession, error) {
	clientConfig := &ssh.ClientConfig{
		User:            params.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(params.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         params.SocketTimeout,
	}
	if params.LegacyKexAlgorithms {
		clientConfig.KeyExchanges = append(clientConfig.KeyExchanges, legacyKexAlgorithms...)
	}
	if params.LegacyCiphers {
		clientConfig.Ciphers = append(clientConfig.Ciphers, legacyCiphers...)
	}
	clientConfig.HostKeyAlgorithms = append(clientConfig.HostKeyAlgorithms, legacyHostKeyAlgorithms...)

	addr := net.JoinHostPort(params.Host, "22")
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	session, err := newShellSession(client, params, d.logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return session, nil
}

// shellSession drives a single interactive shell channel. All commands are
// written to the shell and output is collected until the device prompt
// reappears.
type shellSession struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   interface{ Write([]byte) (int, error) }
	params  models.ConnectionParameters
	logger  zerolog.Logger

	mu  sync.Mutex
	buf bytes.Buffer

	done      chan struct{}
	closeOnce sync.Once
}

func newShellSession(client *ssh.Client, params models.ConnectionParameters, logger zerolog.Logger) (*shellSession, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("vt100", 512, 512, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	s := &shellSession{
		client:  client,
		session: session,
		stdin:   stdin,
		params:  params,
		logger:  logger,
		done:    make(chan struct{}),
	}

	go s.collect(stdout)
	go s.keepAlive()

	if err := s.initialize(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// collect drains shell output into the shared buffer.
func (s *shellSession) collect(stdout interface{ Read([]byte) (int, error) }) {
	chunk := make([]byte, 4096)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(chunk[:n])
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// keepAlive sends SSH-level keepalive probes until the session closes.
func (s *shellSession) keepAlive() {
	ticker := time.NewTicker(s.params.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				s.logger.Debug().Err(err).Str("host", s.params.Host).Msg("Keepalive failed, connection lost")
				return
			}
		}
	}
}

// initialize waits for the first prompt, disables paging and enters
// privileged mode.
func (s *shellSession) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.params.SocketTimeout)
	defer cancel()

	prompt, err := s.waitPrompt(ctx)
	if err != nil {
		return fmt.Errorf("no device prompt: %w", err)
	}

	if strings.HasSuffix(strings.TrimSpace(prompt), ">") {
		if err := s.enterEnable(ctx); err != nil {
			return err
		}
	}

	if _, err := s.Run(ctx, "terminal length 0"); err != nil {
		return fmt.Errorf("failed to disable paging: %w", err)
	}
	return nil
}

func (s *shellSession) enterEnable(ctx context.Context) error {
	if err := s.write("enable"); err != nil {
		return err
	}
	// the device answers with a Password: prompt, not the exec prompt
	time.Sleep(500 * time.Millisecond)
	if err := s.write(s.params.EnablePassword); err != nil {
		return err
	}
	if _, err := s.waitPrompt(ctx); err != nil {
		return fmt.Errorf("failed to enter privileged mode: %w", err)
	}
	return nil
}

func (s *shellSession) write(line string) error {
	_, err := s.stdin.Write([]byte(line + "\n"))
	if err != nil {
		return fmt.Errorf("failed to write to shell: %w", err)
	}
	return nil
}

// waitPrompt blocks until the device prompt appears in the output buffer,
// then drains and returns everything collected so far.
func (s *shellSession) waitPrompt(ctx context.Context) (string, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		current := s.buf.String()
		if promptRe.MatchString(current) {
			s.buf.Reset()
			s.mu.Unlock()
			return current, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.done:
			return "", fmt.Errorf("session closed while waiting for prompt")
		case <-ticker.C:
		}
	}
}

// Run executes one exec-mode command and returns its collected output. The
// command deadline from the connection parameters applies unless the caller's
// context expires first.
func (s *shellSession) Run(ctx context.Context, command string) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.params.CommandTimeout)
	defer cancel()

	s.mu.Lock()
	s.buf.Reset()
	s.mu.Unlock()

	if err := s.write(command); err != nil {
		return CommandResult{Command: command}, err
	}

	raw, err := s.waitPrompt(ctx)
	if err != nil {
		return CommandResult{Command: command}, fmt.Errorf("command %q: %w", command, err)
	}

	raw = stripEcho(raw, command)
	return CommandResult{
		Command: command,
		Raw:     raw,
		Failed:  commandErrorRe.MatchString(raw),
	}, nil
}

// RunConfig enters configuration mode, applies the given lines in order and
// exits. With stopOnFailed set, the first rejected line aborts the push and
// returns an error.
func (s *shellSession) RunConfig(ctx context.Context, lines []string, stopOnFailed bool) error {
	if _, err := s.Run(ctx, "configure terminal"); err != nil {
		return err
	}

	var failed []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		result, err := s.Run(ctx, line)
		if err != nil {
			s.Run(ctx, "end") //nolint:errcheck // best effort to leave config mode
			return err
		}
		if result.Failed {
			failed = append(failed, line)
			if stopOnFailed {
				s.Run(ctx, "end") //nolint:errcheck
				return fmt.Errorf("config line rejected: %q", line)
			}
		}
	}

	if _, err := s.Run(ctx, "end"); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d config lines rejected: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// Close tears the session down. Safe to call more than once.
func (s *shellSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.session.Close()
		err = s.client.Close()
	})
	return err
}

// stripEcho removes the echoed command and trailing prompt from raw output.
func stripEcho(raw, command string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == strings.TrimSpace(command) {
			continue
		}
		if promptRe.MatchString(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
