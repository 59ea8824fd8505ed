package selftest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/vastctl/vastctl/internal/metrics"
	"github.com/vastctl/vastctl/internal/ssh"
	"github.com/vastctl/vastctl/internal/ssh/sshtest"
	"github.com/vastctl/vastctl/internal/storage"
	"github.com/vastctl/vastctl/pkg/vast"
)

type fakeAPI struct {
	mu sync.Mutex

	offers      map[int][]vast.Record
	searchErr   error
	createErr   error
	blockWait   bool
	instance    vast.Instance
	destroyErrs []error

	queries   []vast.Query
	created   []vast.CreateInstanceRequest
	destroyed []int
	nextID    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		offers: map[int][]vast.Record{
			10: {
				{"id": float64(501), "machine_id": float64(10), "gpu_name": "RTX 4090", "num_gpus": float64(1), "dph_total": 0.50},
				{"id": float64(500), "machine_id": float64(10), "gpu_name": "RTX 4090", "num_gpus": float64(1), "dph_total": 0.35},
			},
			20: {
				{"id": float64(600), "machine_id": float64(20), "gpu_name": "A100", "num_gpus": float64(2), "dph_total": 1.2},
			},
		},
		nextID: 9000,
	}
}

func (f *fakeAPI) SearchOffers(_ context.Context, q vast.Query, _ vast.SearchOptions) ([]vast.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	id, _ := q["machine_id"]["eq"].(int)
	return f.offers[id], nil
}

func (f *fakeAPI) CreateInstance(_ context.Context, offerID int, req vast.CreateInstanceRequest) (*vast.CreateInstanceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	f.nextID++
	return &vast.CreateInstanceResponse{Success: true, NewContract: f.nextID}, nil
}

func (f *fakeAPI) WaitForStatus(ctx context.Context, id int, status string, _ time.Duration) (vast.Instance, error) {
	if f.blockWait {
		<-ctx.Done()
		return vast.Instance{}, fmt.Errorf("waiting for instance %d: %w", id, ctx.Err())
	}
	inst := f.instance
	inst.ID = id
	inst.ActualStatus = status
	return inst, nil
}

func (f *fakeAPI) DestroyInstance(_ context.Context, id int) (vast.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, id)
	if len(f.destroyErrs) > 0 {
		err := f.destroyErrs[0]
		f.destroyErrs = f.destroyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return vast.Record{"success": true}, nil
}

func fastOptions(opts ...Option) []Option {
	return append([]Option{
		WithPollInterval(5 * time.Millisecond),
		WithTimeouts(50*time.Millisecond, time.Second),
	}, opts...)
}

func TestHarness_PassesWithoutInspector(t *testing.T) {
	api := newFakeAPI()
	h := New(api, fastOptions(WithImage("custom:1"), WithDisk(32))...)

	res := h.TestMachine(context.Background(), "run-1", 10)
	assert.True(t, res.Passed, res.Reason)
	assert.Equal(t, 500, res.OfferID, "cheapest offer is rented")
	assert.Equal(t, 9001, res.InstanceID)
	assert.Equal(t, "RTX 4090", res.GPUName)
	assert.Equal(t, []int{9001}, api.destroyed)

	require.Len(t, api.created, 1)
	assert.Equal(t, "custom:1", api.created[0].Image)
	assert.Equal(t, 32.0, api.created[0].Disk)
	assert.Equal(t, "selftest-run-1", api.created[0].Label)

	require.Len(t, api.queries, 1)
	assert.Equal(t, map[string]any{"eq": 10}, api.queries[0]["machine_id"])
}

func TestHarness_Failures(t *testing.T) {
	notFound := &vast.APIError{StatusCode: 404, Err: vast.ErrNotFound}

	tests := []struct {
		name          string
		machine       int
		setup         func(*fakeAPI)
		wantReason    string
		wantDestroyed int
	}{
		{
			name:       "no offer",
			machine:    99,
			wantReason: "no rentable offer on machine 99",
		},
		{
			name:       "search error",
			machine:    10,
			setup:      func(f *fakeAPI) { f.searchErr = errors.New("boom") },
			wantReason: "failed to search offers: boom",
		},
		{
			name:       "create error",
			machine:    10,
			setup:      func(f *fakeAPI) { f.createErr = errors.New("offer gone") },
			wantReason: "failed to create instance: offer gone",
		},
		{
			name:          "never running",
			machine:       10,
			setup:         func(f *fakeAPI) { f.blockWait = true },
			wantReason:    "did not reach running",
			wantDestroyed: 1,
		},
		{
			name:          "destroy keeps failing",
			machine:       10,
			setup:         func(f *fakeAPI) { f.destroyErrs = []error{errors.New("a"), errors.New("b"), errors.New("c")} },
			wantReason:    "failed to destroy instance 9001 after 3 attempts",
			wantDestroyed: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			if tt.setup != nil {
				tt.setup(api)
			}
			res := New(api, fastOptions()...).TestMachine(context.Background(), "run", tt.machine)
			assert.False(t, res.Passed)
			assert.Contains(t, res.Reason, tt.wantReason)
			assert.Len(t, api.destroyed, tt.wantDestroyed)
		})
	}

	t.Run("already destroyed counts as cleaned up", func(t *testing.T) {
		api := newFakeAPI()
		api.destroyErrs = []error{notFound}
		res := New(api, fastOptions()...).TestMachine(context.Background(), "run", 10)
		assert.True(t, res.Passed, res.Reason)
		assert.Len(t, api.destroyed, 1)
	})

	t.Run("destroy recovers on retry", func(t *testing.T) {
		api := newFakeAPI()
		api.destroyErrs = []error{errors.New("502")}
		res := New(api, fastOptions()...).TestMachine(context.Background(), "run", 10)
		assert.True(t, res.Passed, res.Reason)
		assert.Len(t, api.destroyed, 2)
	})
}

func TestHarness_DestroysAfterCancel(t *testing.T) {
	api := newFakeAPI()
	api.blockWait = true
	h := New(api, WithPollInterval(5*time.Millisecond), WithTimeouts(time.Minute, time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := h.TestMachine(ctx, "run", 10)
	assert.False(t, res.Passed)
	assert.Equal(t, []int{9001}, api.destroyed)
}

func sshInstance(t *testing.T, srv *sshtest.Server) vast.Instance {
	t.Helper()
	return vast.Instance{
		PublicIP: srv.Host,
		Ports:    map[string][]vast.PortBinding{"22/tcp": {{HostPort: strconv.Itoa(srv.Port)}}},
	}
}

func testDialer(srv *sshtest.Server) *ssh.Dialer {
	return ssh.NewDialer(
		ssh.WithAuth(cryptossh.PublicKeys(srv.ClientSigner)),
		ssh.WithConnectTimeout(time.Second),
		ssh.WithCommandTimeout(time.Second),
	)
}

func TestHarness_InspectsOverSSH(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.Handle(ssh.GPUQueryCommand, sshtest.Reply{Stdout: "NVIDIA GeForce RTX 4090, 1, 24564, 0, 41, 18\n"})
	srv.Handle("nvidia-smi", sshtest.Reply{Stdout: "| NVIDIA-SMI 550.54    Driver Version: 550.54    CUDA Version: 12.4 |\n"})
	srv.Handle(ssh.DiskCommand, sshtest.Reply{Stdout: "Filesystem 1G-blocks Used Available Use% Mounted on\noverlay 50G 5G 45G 10% /\n"})

	api := newFakeAPI()
	api.instance = sshInstance(t, srv)
	h := New(api, fastOptions(WithInspector(testDialer(srv)))...)

	res := h.TestMachine(context.Background(), "run", 10)
	require.True(t, res.Passed, res.Reason)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", res.GPUName)
	require.NotNil(t, res.Report)
	assert.Equal(t, "12.4", res.Record()["cuda"])
	assert.Contains(t, srv.Commands(), ssh.GPUQueryCommand)
	assert.Len(t, api.destroyed, 1)
}

func TestHarness_InspectDetectsWrongGPUCount(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.Handle(ssh.GPUQueryCommand, sshtest.Reply{Stdout: "NVIDIA A100, 1, 81920, 0, 35, 60\n"})

	api := newFakeAPI()
	api.instance = sshInstance(t, srv)
	h := New(api, fastOptions(WithInspector(testDialer(srv)))...)

	// machine 20 advertises two GPUs
	res := h.TestMachine(context.Background(), "run", 20)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "expected 2 GPUs")
	assert.Len(t, api.destroyed, 1)
}

func TestHarness_InspectWithoutSSHEndpoint(t *testing.T) {
	api := newFakeAPI()
	h := New(api, fastOptions(WithInspector(ssh.NewDialer()))...)

	res := h.TestMachine(context.Background(), "run", 10)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "no ssh endpoint")
	assert.Len(t, api.destroyed, 1)
}

func TestHarness_RunRecordsHistoryAndMetrics(t *testing.T) {
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()
	store := storage.NewSelfTestStore(db)
	rec := metrics.New()

	api := newFakeAPI()
	h := New(api, fastOptions(WithStore(store), WithMetrics(rec))...)

	results, err := h.Run(context.Background(), []int{10, 99})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.Equal(t, results[0].RunID, results[1].RunID)

	history, err := store.History(context.Background(), storage.SelfTestFilter{RunID: results[0].RunID})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.SelfTestPassed.WithLabelValues("10")))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.SelfTestPassed.WithLabelValues("99")))
}

func TestHarness_RunValidation(t *testing.T) {
	h := New(newFakeAPI())

	_, err := h.Run(context.Background(), nil)
	var verr *vast.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = h.Run(context.Background(), []int{10, -1})
	assert.ErrorAs(t, err, &verr)
}

func TestHarness_RunStopsWhenCancelled(t *testing.T) {
	api := newFakeAPI()
	h := New(api, fastOptions()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := h.Run(ctx, []int{10, 20})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Empty(t, api.created)
}

type failingStore struct{}

func (failingStore) Record(context.Context, *storage.SelfTestRecord) error {
	return errors.New("disk full")
}

func TestHarness_RunReportsStoreErrors(t *testing.T) {
	h := New(newFakeAPI(), fastOptions(WithStore(failingStore{}))...)

	results, err := h.Run(context.Background(), []int{10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, results, 1)
}

func TestResult_Record(t *testing.T) {
	res := Result{
		RunID: "r", MachineID: 3, Passed: true,
		Duration:  1500 * time.Millisecond,
		StartedAt: time.Unix(1700000000, 0),
	}
	rec := res.Record()
	assert.Equal(t, "2s", rec["duration"])
	assert.Equal(t, float64(1700000000), rec["started_at"])
	_, hasCUDA := rec["cuda"]
	assert.False(t, hasCUDA)
}
