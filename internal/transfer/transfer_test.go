package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/vastctl/vastctl/internal/ssh"
	"github.com/vastctl/vastctl/internal/ssh/sshtest"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{in: "data/model.bin", want: Endpoint{Path: "data/model.bin"}},
		{in: "1234:/workspace/out", want: Endpoint{InstanceID: 1234, Path: "/workspace/out"}},
		{in: "C.99:/root/x", want: Endpoint{InstanceID: 99, Path: "/root/x"}},
		{in: "7:", want: Endpoint{InstanceID: 7, Path: "/root"}},
		{in: "local:1234:odd", want: Endpoint{Path: "1234:odd"}},
		{in: `C:\Users\me\file`, want: Endpoint{Path: `C:\Users\me\file`}},
		{in: "bucket:key", want: Endpoint{Path: "bucket:key"}},
		{in: "0:/x", wantErr: true},
		{in: "", wantErr: true},
		{in: "local:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpoint_String(t *testing.T) {
	assert.Equal(t, "a/b", Endpoint{Path: "a/b"}.String())
	assert.Equal(t, "5:/root", Endpoint{InstanceID: 5, Path: "/root"}.String())
	assert.True(t, Endpoint{Path: "x"}.Local())
}

func newCopier(t *testing.T) *Copier {
	t.Helper()
	srv := sshtest.NewServer(t)
	d := ssh.NewDialer(ssh.WithAuth(cryptossh.PublicKeys(srv.ClientSigner)), ssh.WithConnectTimeout(2*time.Second))
	conn, err := d.Dial(context.Background(), ssh.Target{Host: srv.Host, Port: srv.Port})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c, err := New(conn)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCopier_FileRoundTrip(t *testing.T) {
	c := newCopier(t)
	local := t.TempDir()
	remote := t.TempDir()

	src := filepath.Join(local, "weights.bin")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0o600))

	stats, err := c.Upload(context.Background(), src, remote+"/nested/")
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 1, Bytes: 10}, stats)

	uploaded := filepath.Join(remote, "nested", "weights.bin")
	data, err := os.ReadFile(uploaded)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	ok, err := c.Exists(uploaded)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Exists(filepath.Join(remote, "nope"))
	require.NoError(t, err)
	assert.False(t, ok)

	back := filepath.Join(local, "back.bin")
	stats, err = c.Download(context.Background(), uploaded, back)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Bytes)
	data, err = os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestCopier_DirectoryRoundTrip(t *testing.T) {
	c := newCopier(t)
	local := t.TempDir()
	remote := t.TempDir()

	tree := filepath.Join(local, "run")
	require.NoError(t, os.MkdirAll(filepath.Join(tree, "ckpt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "config.yaml"), []byte("lr: 0.1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "ckpt", "step1.pt"), []byte("abc"), 0o644))

	// existing remote directory: source lands inside it
	stats, err := c.Upload(context.Background(), tree, remote)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, int64(11), stats.Bytes)
	assert.FileExists(t, filepath.Join(remote, "run", "ckpt", "step1.pt"))

	out := filepath.Join(local, "restored")
	stats, err = c.Download(context.Background(), filepath.Join(remote, "run"), out)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)

	data, err := os.ReadFile(filepath.Join(out, "ckpt", "step1.pt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestCopier_Errors(t *testing.T) {
	c := newCopier(t)
	dir := t.TempDir()

	_, err := c.Upload(context.Background(), "", "/x")
	assert.Error(t, err)
	_, err = c.Upload(context.Background(), filepath.Join(dir, "missing"), dir)
	assert.Error(t, err)
	_, err = c.Download(context.Background(), filepath.Join(dir, "missing"), filepath.Join(dir, "out"))
	assert.Error(t, err)
	_, err = c.Download(context.Background(), "/x", "")
	assert.Error(t, err)
}

func TestCopier_CancelledContext(t *testing.T) {
	c := newCopier(t)
	local := t.TempDir()
	remote := t.TempDir()
	src := filepath.Join(local, "f")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Upload(ctx, src, filepath.Join(remote, "f"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_NilConnection(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
