package ssh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastctl/vastctl/internal/ssh/sshtest"
)

const smiBanner = `Thu Feb  6 10:15:00 2026
+-----------------------------------------------------------------------------------------+
| NVIDIA-SMI 580.126.09        Driver Version: 580.126.09     CUDA Version: 12.9         |
|-----------------------------------------+------------------------+----------------------+
|   0  NVIDIA GeForce RTX 4090        Off |   00000000:01:00.0 Off |                  Off |
| 30%   42C    P8             15W /  450W |       1MiB /  24564MiB |      0%      Default |
+-----------------------------------------------------------------------------------------+`

func TestParseNvidiaSMI(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    *GPUStatus
		wantErr string
	}{
		{
			name: "typical",
			line: "NVIDIA GeForce RTX 3090, 1234, 24576, 45, 65, 250.50",
			want: &GPUStatus{Name: "NVIDIA GeForce RTX 3090", MemoryUsedMB: 1234, MemoryTotalMB: 24576, UtilizationPct: 45, TemperatureC: 65, PowerDrawW: 250},
		},
		{
			name: "N/A power",
			line: "NVIDIA A100-SXM4-80GB, 0, 81920, 0, 31, [N/A]",
			want: &GPUStatus{Name: "NVIDIA A100-SXM4-80GB", MemoryTotalMB: 81920, TemperatureC: 31},
		},
		{name: "empty", line: "  ", wantErr: "empty"},
		{name: "too few fields", line: "RTX, 1, 2", wantErr: "expected 6 fields"},
		{name: "blank name", line: " , 1, 2, 3, 4, 5", wantErr: "empty GPU name"},
		{name: "garbage number", line: "RTX, x, 2, 3, 4, 5", wantErr: "memory.used"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNvidiaSMI(tt.line)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMultiGPUNvidiaSMI(t *testing.T) {
	out := "RTX 4090, 1, 24564, 0, 40, 20\n\nRTX 4090, 2, 24564, 0, 41, 21\n"
	gpus, err := ParseMultiGPUNvidiaSMI(out)
	require.NoError(t, err)
	assert.Len(t, gpus, 2)
	assert.Equal(t, 41, gpus[1].TemperatureC)

	_, err = ParseMultiGPUNvidiaSMI("")
	assert.Error(t, err)
}

func TestGPUStatus_IsHealthy(t *testing.T) {
	assert.True(t, (&GPUStatus{TemperatureC: 60, MemoryUsedMB: 1, MemoryTotalMB: 10}).IsHealthy())
	assert.False(t, (&GPUStatus{TemperatureC: 95, MemoryUsedMB: 1, MemoryTotalMB: 10}).IsHealthy())
	assert.False(t, (&GPUStatus{TemperatureC: 60, MemoryUsedMB: 10, MemoryTotalMB: 10}).IsHealthy())
	assert.InDelta(t, 50.0, (&GPUStatus{MemoryUsedMB: 5, MemoryTotalMB: 10}).MemoryUsedPct(), 0.001)
	assert.Equal(t, 0.0, (&GPUStatus{}).MemoryUsedPct())
}

func TestParseCUDAVersion(t *testing.T) {
	info, err := ParseCUDAVersion(smiBanner)
	require.NoError(t, err)
	assert.Equal(t, &CUDAInfo{Version: "12.9", Major: 12, Minor: 9, Driver: "580.126.09"}, info)

	info, err = ParseCUDAVersion("11.8")
	require.NoError(t, err)
	assert.Equal(t, 11, info.Major)
	assert.Empty(t, info.Driver)

	_, err = ParseCUDAVersion("")
	assert.Error(t, err)

	_, err = ParseCUDAVersion("GPU 0: NVIDIA GeForce RTX 4090")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse CUDA version")
}

func TestParseDiskOutput(t *testing.T) {
	out := `Filesystem     1G-blocks  Used Available Use% Mounted on
overlay             440G  128G      290G  31% /
/dev/sda1             1G    1G        0G 100% /boot/efi
garbage line`

	mounts := ParseDiskOutput(out)
	require.Len(t, mounts, 2)
	assert.Equal(t, MountInfo{Filesystem: "overlay", TotalGB: 440, UsedGB: 128, AvailGB: 290, UsePct: 31, MountPoint: "/"}, mounts[0])
	assert.Empty(t, ParseDiskOutput(""))
}

func TestReport_Check(t *testing.T) {
	healthy := &GPUStatus{Name: "RTX", MemoryUsedMB: 1, MemoryTotalMB: 100, TemperatureC: 40}
	hot := &GPUStatus{Name: "RTX", MemoryUsedMB: 1, MemoryTotalMB: 100, TemperatureC: 99}
	root := []MountInfo{{MountPoint: "/", AvailGB: 30}}

	tests := []struct {
		name    string
		report  Report
		gpus    int
		disk    float64
		wantErr string
	}{
		{"pass", Report{GPUs: []*GPUStatus{healthy, healthy}, Mounts: root}, 2, 40, ""},
		{"no expectations", Report{GPUs: []*GPUStatus{healthy}}, 0, 0, ""},
		{"no gpus", Report{}, 1, 0, "no GPUs"},
		{"count mismatch", Report{GPUs: []*GPUStatus{healthy}}, 2, 0, "expected 2 GPUs"},
		{"unhealthy", Report{GPUs: []*GPUStatus{healthy, hot}}, 2, 0, "GPU 1 unhealthy"},
		{"disk short", Report{GPUs: []*GPUStatus{healthy}, Mounts: root}, 1, 100, "only 30GB free"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.report.Check(tt.gpus, tt.disk)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReport_RootAvailGB(t *testing.T) {
	r := Report{Mounts: []MountInfo{{MountPoint: "/data", AvailGB: 500}, {MountPoint: "/boot", AvailGB: 1}}}
	assert.Equal(t, 500.0, r.RootAvailGB())
	r.Mounts = append(r.Mounts, MountInfo{MountPoint: "/", AvailGB: 20})
	assert.Equal(t, 20.0, r.RootAvailGB())
}

func TestDialer_Inspect(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.Handle(GPUQueryCommand, sshtest.Reply{Stdout: "NVIDIA GeForce RTX 4090, 1, 24564, 0, 42, 15\n"})
	srv.Handle("nvidia-smi", sshtest.Reply{Stdout: smiBanner})
	srv.Handle(DiskCommand, sshtest.Reply{Stdout: "Filesystem 1G-blocks Used Available Use% Mounted on\noverlay 100G 10G 90G 10% /\n"})

	d := testDialer(srv)
	conn, err := d.Dial(context.Background(), Target{Host: srv.Host, Port: srv.Port})
	require.NoError(t, err)
	defer conn.Close()

	report, err := d.Inspect(context.Background(), conn)
	require.NoError(t, err)
	require.Len(t, report.GPUs, 1)
	assert.Equal(t, "12.9", report.CUDA.Version)
	assert.Equal(t, 90.0, report.RootAvailGB())
	assert.NoError(t, report.Check(1, 100))
}

func TestDialer_InspectWithoutNvidiaSMI(t *testing.T) {
	srv := sshtest.NewServer(t)
	d := testDialer(srv)
	conn, err := d.Dial(context.Background(), Target{Host: srv.Host, Port: srv.Port})
	require.NoError(t, err)
	defer conn.Close()

	_, err = d.Inspect(context.Background(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nvidia-smi failed")
}
