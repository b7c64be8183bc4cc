// Package gerrit talks to a Gerrit server over its SSH command interface.
package gerrit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"gerrit-watch/internal/models"
)

// Commands run on the server
const (
	queryCommand  = "gerrit query --format=JSON --current-patch-set "
	streamCommand = "gerrit stream-events"
)

// Source opens SSH sessions to one Gerrit server
type Source struct {
	addr   string
	config *ssh.ClientConfig
	logger *logrus.Logger
}

// NewSource creates a source authenticating as user with the private key in
// keyFile. Host keys are checked against knownHostsFile when it is set.
func NewSource(host string, port int, user, keyFile, knownHostsFile string, logger *logrus.Logger) (*Source, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", keyFile, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	} else {
		logger.Warn("No known_hosts file configured, server host key will not be verified")
	}

	return &Source{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
		},
		logger: logger,
	}, nil
}

// Open dials the server and completes the SSH handshake. No timeout is
// applied; cancelling ctx aborts the dial or the handshake.
func (s *Source) Open(ctx context.Context) (*Session, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", s.addr, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, s.addr, s.config)
	if !stop() {
		if err == nil {
			c.Close()
		}
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", s.addr, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", s.addr, err)
	}
	s.logger.Infof("Connected to Gerrit at %s as %s", s.addr, s.config.User)
	return newSession(ssh.NewClient(c, chans, reqs), s.logger), nil
}

// Session is one SSH connection. Queries run on their own channels; event
// delivery runs stream-events on a long-lived channel read by a goroutine.
type Session struct {
	client *ssh.Client
	logger *logrus.Logger

	quit      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	stream  *ssh.Session
	events  chan []byte
	done    chan struct{}
	readErr error
}

func newSession(client *ssh.Client, logger *logrus.Logger) *Session {
	return &Session{
		client: client,
		logger: logger,
		quit:   make(chan struct{}),
	}
}

// run executes a single command and returns its standard output. Cancelling
// ctx closes the whole session, since a command cannot be interrupted alone.
func (s *Session) run(ctx context.Context, command string) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	sess, err := s.client.NewSession()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", command, ctx.Err())
		}
		return nil, fmt.Errorf("failed to open SSH channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if err := sess.Run(command); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", command, ctx.Err())
		}
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", command, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	return stdout.Bytes(), nil
}

// Query runs gerrit query and returns one JSON record per result line,
// including the trailing stats record.
func (s *Session) Query(ctx context.Context, query string) ([][]byte, error) {
	out, err := s.run(ctx, queryCommand+query)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	return models.SplitRecords(out)
}

// Version returns the server version reported by gerrit version
func (s *Session) Version(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "gerrit version")
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(out)), nil
}

// StartDelivery starts gerrit stream-events. Each output line is handed to
// Next; the session stops being alive once the command's output ends.
func (s *Session) StartDelivery(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return fmt.Errorf("event delivery already started")
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open SSH channel: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return fmt.Errorf("failed to attach to stream-events output: %w", err)
	}
	if err := sess.Start(streamCommand); err != nil {
		sess.Close()
		return fmt.Errorf("failed to start %s: %w", streamCommand, err)
	}

	s.stream = sess
	s.events = make(chan []byte)
	s.done = make(chan struct{})
	go s.pump(stdout, s.events, s.done)
	return nil
}

func (s *Session) pump(stdout io.Reader, events chan<- []byte, done chan struct{}) {
	defer close(done)

	scanner := models.NewRecordScanner(stdout)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		record := make([]byte, len(line))
		copy(record, line)
		select {
		case events <- record:
		case <-s.quit:
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	s.logger.Warnf("Event stream ended: %v", err)
}

// Next returns the next stream-events record
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	events, done := s.events, s.done
	s.mu.Unlock()
	if events == nil {
		return nil, fmt.Errorf("event delivery not started")
	}

	select {
	case record := <-events:
		return record, nil
	case <-done:
		s.mu.Lock()
		err := s.readErr
		s.mu.Unlock()
		return nil, fmt.Errorf("event stream closed: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Alive reports whether the stream-events reader is still running
func (s *Session) Alive() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Close tears down the connection, which also ends event delivery
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		s.mu.Lock()
		stream := s.stream
		s.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		err = s.client.Close()
	})
	return err
}
