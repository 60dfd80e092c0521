package sshfeed

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	testUser     = "probe"
	testPassword = "secret"
)

// reply is what the test server sends back for one command.
type reply struct {
	stdout string
	stderr string
	code   uint32
}

// testServer is a minimal in-process SSH server that answers exec requests.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey
	execs   atomic.Int32

	listener net.Listener
	config   *ssh.ServerConfig
	handle   func(cmd string) reply
}

func newTestServer(t *testing.T, handle func(cmd string) reply) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	config.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{
		addr:     l.Addr().String(),
		hostKey:  signer.PublicKey(),
		listener: l,
		config:   config,
		handle:   handle,
	}
	t.Cleanup(func() { _ = l.Close() })

	go s.accept()
	return s
}

func (s *testServer) accept() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serve(nc)
	}
}

func (s *testServer) serve(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer func() { _ = conn.Close() }()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, requests)
	}
}

func (s *testServer) session(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)
		s.execs.Add(1)

		r := s.handle(payload.Command)
		_, _ = ch.Write([]byte(r.stdout))
		_, _ = ch.Stderr().Write([]byte(r.stderr))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{r.code}))
		return
	}
}

// port returns the listening port.
func (s *testServer) port(t *testing.T) int {
	t.Helper()
	return s.listener.Addr().(*net.TCPAddr).Port
}

// knownHosts writes a known_hosts file trusting key for this server.
func (s *testServer) knownHosts(t *testing.T, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{s.addr}, key)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o600))
	return path
}

// config returns a client config for this server using password auth.
func (s *testServer) clientConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Host:           "127.0.0.1",
		Port:           s.port(t),
		User:           testUser,
		Password:       testPassword,
		KnownHostsPath: s.knownHosts(t, s.hostKey),
	}
}

// shell answers a few canned commands.
func shell(cmd string) reply {
	switch {
	case cmd == "cat /proc/loadavg":
		return reply{stdout: "0.42 0.30 0.10 1/123 4567\n"}
	case cmd == "hostname":
		return reply{stdout: "web-1\n"}
	case strings.HasPrefix(cmd, "exit "):
		return reply{stderr: "bye\n", code: 3}
	default:
		return reply{stderr: "command not found\n", code: 127}
	}
}
