package mockvast

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastctl/vastctl/pkg/vast"
)

func newTestServer(t *testing.T) (*Server, *vast.Client) {
	t.Helper()
	srv := NewServer(nil)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	client := vast.NewClient(DefaultAPIKey, vast.WithBaseURL(hs.URL), vast.WithRetries(0))
	return srv, client
}

func TestState_CreateAndDestroy(t *testing.T) {
	state := NewState()

	inst, err := state.CreateInstance(5001, "job", "pytorch/pytorch", "ssh", 20, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1001, inst.ID)
	assert.Equal(t, 101, inst.MachineID)
	assert.Equal(t, StatusLoading, inst.ActualStatus)

	_, err = state.CreateInstance(5001, "again", "img", "ssh", 20, nil, "")
	assert.Error(t, err, "rented offers cannot be taken twice")

	require.Eventually(t, func() bool {
		got, ok := state.Instance(inst.ID)
		return ok && got.ActualStatus == StatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, state.DestroyInstance(inst.ID))
	assert.ErrorIs(t, state.DestroyInstance(inst.ID), ErrNoSuchInstance)

	_, err = state.CreateInstance(5001, "after", "img", "ssh", 20, nil, "")
	assert.NoError(t, err, "destroy frees the offer")
}

func TestState_FailKnobs(t *testing.T) {
	state := NewState()

	state.SetFailCreate(true, "out of capacity")
	_, err := state.CreateInstance(5001, "", "img", "", 10, nil, "")
	assert.EqualError(t, err, "out of capacity")

	state.SetFailCreate(false, "")
	inst, err := state.CreateInstance(5001, "", "img", "", 10, nil, "")
	require.NoError(t, err)

	state.SetFailDestroy(true, "")
	assert.EqualError(t, state.DestroyInstance(inst.ID), "simulated destroy failure")

	state.Reset()
	assert.Empty(t, state.Instances())
}

func TestState_SSHEndpoint(t *testing.T) {
	state := NewState()
	state.SetSSHEndpoint("127.0.0.1", 2222)

	inst, err := state.CreateInstance(5003, "", "img", "ssh_direct", 10, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", inst.PublicIP)
	require.Len(t, inst.Ports["22/tcp"], 1)
	assert.Equal(t, "2222", inst.Ports["22/tcp"][0].HostPort)
}

func TestSearch_Filters(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query vast.Query
		opts  vast.SearchOptions
		want  []int
	}{
		{"default query", vast.DefaultOfferQuery(), vast.SearchOptions{}, []int{5001, 5002, 5003, 5004}},
		{"by gpu name", vast.Query{"gpu_name": {"eq": "RTX 4090"}}, vast.SearchOptions{}, []int{5001, 5002}},
		{"numeric range", vast.Query{"dph_total": {"gte": 0.5, "lt": 3}}, vast.SearchOptions{}, []int{5002, 5003}},
		{"in list", vast.Query{"machine_id": {"in": []any{103, 104}}}, vast.SearchOptions{}, []int{5003, 5004}},
		{"order desc with limit", nil, vast.SearchOptions{Order: [][]string{{"dph_total", "desc"}}, Limit: 2}, []int{5004, 5003}},
		{"unknown field matches nothing", vast.Query{"bogus": {"eq": 1}}, vast.SearchOptions{}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offers, err := client.SearchOffers(ctx, tt.query, tt.opts)
			require.NoError(t, err)
			ids := make([]int, 0, len(offers))
			for _, o := range offers {
				ids = append(ids, o.Int("id"))
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSearch_BadOperator(t *testing.T) {
	_, client := newTestServer(t)
	_, err := client.SearchOffers(context.Background(), vast.Query{"dph_total": {"like": 1}}, vast.SearchOptions{})
	var apiErr *vast.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestAuth_Required(t *testing.T) {
	srv := NewServer(nil, WithAPIKey("secret"))
	hs := httptest.NewServer(srv)
	defer hs.Close()

	bad := vast.NewClient("wrong", vast.WithBaseURL(hs.URL), vast.WithRetries(0))
	_, err := bad.CurrentUser(context.Background())
	assert.True(t, vast.IsAuth(err))

	good := vast.NewClient("secret", vast.WithBaseURL(hs.URL), vast.WithRetries(0))
	user, err := good.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock", user.String("username"))
}

func TestInstanceLifecycle(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	resp, err := client.CreateInstance(ctx, 5002, vast.CreateInstanceRequest{Image: "pytorch/pytorch", Disk: 32, Label: "train"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	id := resp.NewContract

	inst, err := client.WaitForStatus(ctx, id, "running", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "RTX 4090", inst.GPUName)
	assert.Equal(t, 2, inst.NumGPUs)

	list, err := client.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "train", list[0].String("label"))

	_, err = client.LabelInstance(ctx, id, "renamed")
	require.NoError(t, err)
	_, err = client.StopInstance(ctx, id)
	require.NoError(t, err)
	got, ok := srv.State().Instance(id)
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Label)
	assert.Equal(t, StatusStopped, got.ActualStatus)

	_, err = client.RebootInstance(ctx, id)
	require.NoError(t, err)

	_, err = client.DestroyInstance(ctx, id)
	require.NoError(t, err)
	_, err = client.Instance(ctx, id)
	assert.True(t, vast.IsNotFound(err))
	_, err = client.DestroyInstance(ctx, id)
	assert.True(t, vast.IsNotFound(err))
}

func TestCreateInstance_Rejected(t *testing.T) {
	srv, client := newTestServer(t)
	srv.State().SetFailCreate(true, "no capacity")

	_, err := client.CreateInstance(context.Background(), 5001, vast.CreateInstanceRequest{Image: "img", Disk: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capacity")
}

func TestLogsAndExecute(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	resp, err := client.CreateInstance(ctx, 5001, vast.CreateInstanceRequest{Image: "alpine", Disk: 10})
	require.NoError(t, err)

	logs, err := client.Logs(ctx, resp.NewContract, vast.LogsRequest{}, vast.PollOptions{Attempts: 1})
	require.NoError(t, err)
	assert.Contains(t, logs, "pulling alpine")

	out, err := client.Execute(ctx, resp.NewContract, "ls -l /root", vast.PollOptions{Attempts: 1})
	require.NoError(t, err)
	assert.Equal(t, "$ ls -l /root\n", out)
}

func TestAccountResources(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.CreateSSHKey(ctx, "ssh-ed25519 AAAA test")
	require.NoError(t, err)
	keys, err := client.SSHKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	_, err = client.DeleteSSHKey(ctx, keys[0].Int("id"))
	require.NoError(t, err)

	_, err = client.CreateEnvVar(ctx, "HF_TOKEN", "abc")
	require.NoError(t, err)
	_, err = client.CreateEnvVar(ctx, "HF_TOKEN", "dup")
	assert.Error(t, err, "create refuses an existing name")
	_, err = client.UpdateEnvVar(ctx, "HF_TOKEN", "xyz")
	require.NoError(t, err)

	vars, err := client.EnvVars(ctx)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "xyz", vars[0].String("value"))

	_, err = client.DeleteEnvVar(ctx, "HF_TOKEN")
	require.NoError(t, err)
	_, err = client.DeleteEnvVar(ctx, "HF_TOKEN")
	assert.Error(t, err)
}

func TestMachines(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	machines, err := client.Machines(ctx)
	require.NoError(t, err)
	assert.Len(t, machines, 2)

	_, err = client.UnlistMachine(ctx, 101)
	require.NoError(t, err)
	assert.False(t, srv.State().Machines()[0].Listed)

	_, err = client.ListMachine(ctx, vast.ListMachineRequest{MachineID: 101, PriceGPU: 0.55})
	require.NoError(t, err)
	m := srv.State().Machines()[0]
	assert.True(t, m.Listed)
	assert.Equal(t, 0.55, m.ListedGPU)

	_, err = client.ListMachine(ctx, vast.ListMachineRequest{MachineID: 999})
	assert.True(t, vast.IsNotFound(err))
}

func TestTestConfigEndpoint(t *testing.T) {
	srv := NewServer(nil)

	body, _ := json.Marshal(TestConfig{FailDestroy: true, SSHHost: "10.0.0.5", SSHPort: 40022})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/_test/config", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	inst, err := srv.State().CreateInstance(5004, "", "img", "", 10, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", inst.PublicIP)
	assert.Error(t, srv.State().DestroyInstance(inst.ID))

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/_test/reset", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, srv.State().Instances())
}

func TestHealth(t *testing.T) {
	srv := NewServer(nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
