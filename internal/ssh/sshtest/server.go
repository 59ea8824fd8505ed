// Package sshtest runs an in-process sshd for tests: canned exec replies
// and an SFTP subsystem over the local filesystem.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Reply is the canned result of an exec request.
type Reply struct {
	Stdout string
	Stderr string
	Exit   int
}

// Server is a minimal sshd bound to 127.0.0.1.
type Server struct {
	Host string
	Port int

	// ClientSigner is the only key the server accepts.
	ClientSigner ssh.Signer
	clientKey    ed25519.PrivateKey

	listener net.Listener
	config   *ssh.ServerConfig

	mu       sync.Mutex
	replies  map[string]Reply
	commands []string
}

// NewServer starts a server that is shut down when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	hostSigner, _ := newSigner(t)
	clientSigner, clientKey := newSigner(t)
	authorized := string(clientSigner.PublicKey().Marshal())

	s := &Server{
		ClientSigner: clientSigner,
		clientKey:    clientKey,
		replies:      map[string]Reply{"echo ok": {Stdout: "ok\n"}},
	}
	s.config = &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == authorized {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	s.config.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = l
	host, port, _ := net.SplitHostPort(l.Addr().String())
	s.Host = host
	s.Port, _ = strconv.Atoi(port)

	go s.serve()
	t.Cleanup(func() { l.Close() })
	return s
}

// Handle registers the reply for an exact command string.
func (s *Server) Handle(command string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[command] = r
}

// Commands returns every exec request received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// WriteIdentity saves the accepted client key as an OpenSSH private key
// file under dir and returns its path.
func (s *Server) WriteIdentity(t testing.TB, dir string) string {
	t.Helper()
	block, err := ssh.MarshalPrivateKey(s.clientKey, "sshtest")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func newSigner(t testing.TB) (ssh.Signer, ed25519.PrivateKey) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer, priv
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	_, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.exec(ch, payload.Command)
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			if err := server.Serve(); err != nil && err != io.EOF {
				server.Close()
			}
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) exec(ch ssh.Channel, command string) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	r, ok := s.replies[command]
	s.mu.Unlock()
	if !ok {
		r = Reply{Stderr: "command not found: " + command + "\n", Exit: 127}
	}

	io.WriteString(ch, r.Stdout)
	io.WriteString(ch.Stderr(), r.Stderr)
	status := struct{ Status uint32 }{uint32(r.Exit)}
	ch.SendRequest("exit-status", false, ssh.Marshal(&status))
}
