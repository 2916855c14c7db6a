// Package sshtest runs an in-process SSH server for tests.
//
// The server accepts one client key, answers exec and shell requests with a
// handful of built-in commands and serves SFTP from an in-memory file system
// shared by every connection.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// User is the only account the server accepts.
const User = "relay"

// Server is a running test server. Close is registered with t.Cleanup.
type Server struct {
	Host string
	Port int

	// ClientKeyPEM is the OpenSSH encoded private key the server accepts.
	ClientKeyPEM []byte
	HostKey      ssh.PublicKey

	listener net.Listener
	config   *ssh.ServerConfig
	files    sftp.Handlers

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	total  int
	closed bool
	wg     sync.WaitGroup
}

// New starts a server on a random loopback port.
func New(t testing.TB) *Server {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	_, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	clientSigner, err := ssh.NewSignerFromKey(clientPriv)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)

	authorized := clientSigner.PublicKey()

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() == User && ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorized) {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := listener.Addr().(*net.TCPAddr)

	s := &Server{
		Host:         addr.IP.String(),
		Port:         addr.Port,
		ClientKeyPEM: pem.EncodeToMemory(block),
		HostKey:      hostSigner.PublicKey(),
		listener:     listener,
		config:       config,
		files:        sftp.InMemHandler(),
		conns:        map[net.Conn]struct{}{},
	}

	s.wg.Add(1)

	go s.serve()

	t.Cleanup(s.Close)

	return s
}

// Addr returns the host:port address of the server.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// HostKeyCallback accepts exactly this server's host key.
func (s *Server) HostKeyCallback() ssh.HostKeyCallback {
	return ssh.FixedHostKey(s.HostKey)
}

// WriteKey writes the client key to a file in dir and returns its path.
func (s *Server) WriteKey(t testing.TB, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(path, s.ClientKeyPEM, 0o600))

	return path
}

// Active returns the number of open client connections.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

// Accepted returns the number of connections accepted since start.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.total
}

// Drop closes every client connection from the server side.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the server and closes every connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true
	s.mu.Unlock()

	_ = s.listener.Close()
	s.Drop()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[nc] = struct{}{}
		s.total++
		s.mu.Unlock()

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			defer s.forget(nc)

			s.handleConn(nc)
		}()
	}
}

func (s *Server) forget(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()

	_ = nc.Close()
}

func (s *Server) handleConn(nc net.Conn) {
	sc, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		return
	}
	defer func() { _ = sc.Close() }()

	go ssh.DiscardRequests(reqs)

	var sessions sync.WaitGroup

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")

			continue
		}

		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}

		sessions.Add(1)

		go func() {
			defer sessions.Done()

			s.handleSession(ch, requests)
		}()
	}

	sessions.Wait()
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	sess := newSession(ch)

	for req := range requests {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "env":
			var kv struct{ Name, Value string }
			if err := ssh.Unmarshal(req.Payload, &kv); err != nil {
				_ = req.Reply(false, nil)

				continue
			}

			sess.env[kv.Name] = kv.Value
			_ = req.Reply(true, nil)
		case "signal":
			var sig struct{ Signal string }
			_ = ssh.Unmarshal(req.Payload, &sig)
			sess.kill(sig.Signal)
		case "exec":
			var cmd struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &cmd); err != nil {
				_ = req.Reply(false, nil)

				return
			}

			_ = req.Reply(true, nil)

			go sess.exec(cmd.Command)
		case "shell":
			_ = req.Reply(true, nil)

			go sess.shell()
		case "subsystem":
			var sub struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &sub); err != nil || sub.Name != "sftp" {
				_ = req.Reply(false, nil)

				continue
			}

			_ = req.Reply(true, nil)

			go s.serveSFTP(ch)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) serveSFTP(ch ssh.Channel) {
	defer func() { _ = ch.Close() }()

	server := sftp.NewRequestServer(ch, s.files)
	defer func() { _ = server.Close() }()

	if err := server.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
		_, _ = fmt.Fprintf(ch.Stderr(), "sftp: %v\n", err)
	}
}
