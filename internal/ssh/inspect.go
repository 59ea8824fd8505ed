package ssh

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GPUQueryCommand is the nvidia-smi invocation ParseNvidiaSMI understands.
const GPUQueryCommand = "nvidia-smi --query-gpu=name,memory.used,memory.total,utilization.gpu,temperature.gpu,power.draw --format=csv,noheader,nounits"

// DiskCommand lists filesystems in whole gigabytes.
const DiskCommand = `df -BG 2>/dev/null | grep -v tmpfs | grep -v "^none"`

var cudaVersionPattern = regexp.MustCompile(`CUDA Version:\s*(\d+)\.(\d+)`)
var driverVersionPattern = regexp.MustCompile(`Driver Version:\s*([0-9.]+)`)
var bareVersionPattern = regexp.MustCompile(`^(\d+)\.(\d+)$`)

// GPUStatus represents one line of nvidia-smi output
type GPUStatus struct {
	Name           string
	MemoryUsedMB   int64
	MemoryTotalMB  int64
	UtilizationPct int
	TemperatureC   int
	PowerDrawW     int
}

// MemoryUsedPct returns the percentage of GPU memory in use
func (g *GPUStatus) MemoryUsedPct() float64 {
	if g.MemoryTotalMB == 0 {
		return 0
	}
	return float64(g.MemoryUsedMB) / float64(g.MemoryTotalMB) * 100
}

// IsHealthy reports a GPU below the throttling temperature with memory to spare.
func (g *GPUStatus) IsHealthy() bool {
	return g.TemperatureC < 90 && g.MemoryUsedMB < g.MemoryTotalMB
}

func (g *GPUStatus) String() string {
	return fmt.Sprintf("%s: %dMB/%dMB (%.1f%%), %d%% util, %dC, %dW",
		g.Name,
		g.MemoryUsedMB,
		g.MemoryTotalMB,
		g.MemoryUsedPct(),
		g.UtilizationPct,
		g.TemperatureC,
		g.PowerDrawW,
	)
}

// CUDAInfo is the driver and CUDA version reported by nvidia-smi.
type CUDAInfo struct {
	Version string
	Major   int
	Minor   int
	Driver  string
}

// MountInfo is disk usage for one mount point
type MountInfo struct {
	Filesystem string
	TotalGB    float64
	UsedGB     float64
	AvailGB    float64
	UsePct     int
	MountPoint string
}

// Report is everything a machine self-test learns over SSH.
type Report struct {
	GPUs   []*GPUStatus
	CUDA   *CUDAInfo
	Mounts []MountInfo
}

// RootAvailGB returns free space on "/", or the roomiest mount when "/"
// is not listed.
func (r *Report) RootAvailGB() float64 {
	best := 0.0
	for _, m := range r.Mounts {
		if m.MountPoint == "/" {
			return m.AvailGB
		}
		if m.AvailGB > best {
			best = m.AvailGB
		}
	}
	return best
}

// Check compares the report against what the offer advertised. Zero
// expectations are skipped.
func (r *Report) Check(wantGPUs int, wantDiskGB float64) error {
	if len(r.GPUs) == 0 {
		return fmt.Errorf("no GPUs visible to nvidia-smi")
	}
	if wantGPUs > 0 && len(r.GPUs) != wantGPUs {
		return fmt.Errorf("expected %d GPUs, nvidia-smi reports %d", wantGPUs, len(r.GPUs))
	}
	for i, g := range r.GPUs {
		if !g.IsHealthy() {
			return fmt.Errorf("GPU %d unhealthy: %s", i, g)
		}
	}
	// df rounds to whole gigabytes and the image takes some space
	if wantDiskGB > 0 && len(r.Mounts) > 0 && r.RootAvailGB() < wantDiskGB*0.5 {
		return fmt.Errorf("only %.0fGB free, %.0fGB requested", r.RootAvailGB(), wantDiskGB)
	}
	return nil
}

// Inspect runs nvidia-smi and df on conn. nvidia-smi failing is an error; the
// CUDA header and df are best effort.
func (d *Dialer) Inspect(ctx context.Context, conn *Connection) (*Report, error) {
	stdout, stderr, err := d.Run(ctx, conn, GPUQueryCommand)
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, stderr)
	}
	gpus, err := ParseMultiGPUNvidiaSMI(stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse nvidia-smi output: %w", err)
	}
	report := &Report{GPUs: gpus}

	if header, _, err := d.Run(ctx, conn, "nvidia-smi"); err == nil {
		if info, err := ParseCUDAVersion(header); err == nil {
			report.CUDA = info
		}
	}
	if df, _, err := d.Run(ctx, conn, DiskCommand); err == nil {
		report.Mounts = ParseDiskOutput(df)
	}
	return report, nil
}

// ParseNvidiaSMI parses one line of
// `nvidia-smi --query-gpu=name,memory.used,memory.total,utilization.gpu,temperature.gpu,power.draw --format=csv,noheader,nounits`,
// e.g. "NVIDIA GeForce RTX 3090, 1234, 24576, 45, 65, 250".
func ParseNvidiaSMI(line string) (*GPUStatus, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty nvidia-smi output")
	}

	parts := strings.Split(line, ",")
	if len(parts) < 6 {
		return nil, fmt.Errorf("invalid nvidia-smi output format: expected 6 fields, got %d (output: %q)", len(parts), line)
	}

	status := &GPUStatus{Name: strings.TrimSpace(parts[0])}
	if status.Name == "" {
		return nil, fmt.Errorf("empty GPU name in nvidia-smi output")
	}

	ints := []struct {
		name string
		dst  func(int)
	}{
		{"memory.used", func(v int) { status.MemoryUsedMB = int64(v) }},
		{"memory.total", func(v int) { status.MemoryTotalMB = int64(v) }},
		{"utilization.gpu", func(v int) { status.UtilizationPct = v }},
		{"temperature.gpu", func(v int) { status.TemperatureC = v }},
		{"power.draw", func(v int) { status.PowerDrawW = v }},
	}
	for i, f := range ints {
		v, err := parseNumber(parts[i+1], f.name)
		if err != nil {
			return nil, err
		}
		f.dst(v)
	}
	return status, nil
}

// ParseMultiGPUNvidiaSMI parses one GPUStatus per output line.
func ParseMultiGPUNvidiaSMI(output string) ([]*GPUStatus, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, fmt.Errorf("empty nvidia-smi output")
	}

	var statuses []*GPUStatus
	for i, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		status, err := ParseNvidiaSMI(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GPU %d: %w", i, err)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// parseNumber accepts integers, decimals ("250.00") and N/A, which reads as 0.
func parseNumber(s, fieldName string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[N/A]" || s == "N/A" {
		return 0, nil
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", fieldName, s, err)
	}
	return int(val), nil
}

// ParseCUDAVersion reads the CUDA and driver versions from the nvidia-smi
// banner, or a bare "12.4" string.
func ParseCUDAVersion(output string) (*CUDAInfo, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, fmt.Errorf("empty nvidia-smi output")
	}

	m := cudaVersionPattern.FindStringSubmatch(output)
	if m == nil {
		m = bareVersionPattern.FindStringSubmatch(output)
	}
	if m == nil {
		return nil, fmt.Errorf("could not parse CUDA version from %q", firstLine(output))
	}

	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	info := &CUDAInfo{
		Version: m[1] + "." + m[2],
		Major:   major,
		Minor:   minor,
	}
	if d := driverVersionPattern.FindStringSubmatch(output); d != nil {
		info.Driver = d[1]
	}
	return info, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ParseDiskOutput parses `df -BG` output, skipping headers and lines it
// cannot read:
//
//	Filesystem      1G-blocks      Used Available Use% Mounted on
//	/dev/sda1            100G       45G       50G  45% /
func ParseDiskOutput(output string) []MountInfo {
	var mounts []MountInfo
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if line == "" || strings.Contains(lower, "filesystem") || strings.Contains(lower, "mounted on") {
			continue
		}
		if m, err := parseDFLine(line); err == nil {
			mounts = append(mounts, m)
		}
	}
	return mounts
}

func parseDFLine(line string) (MountInfo, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return MountInfo{}, fmt.Errorf("expected at least 6 fields, got %d", len(fields))
	}

	sizes := make([]float64, 3)
	for i := range sizes {
		s := strings.TrimSuffix(fields[i+1], "G")
		if s == "" || s == "-" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return MountInfo{}, fmt.Errorf("parse size %q: %w", fields[i+1], err)
		}
		sizes[i] = v
	}
	pct, err := strconv.Atoi(strings.TrimSuffix(fields[4], "%"))
	if err != nil {
		return MountInfo{}, fmt.Errorf("parse pct %q: %w", fields[4], err)
	}

	return MountInfo{
		Filesystem: fields[0],
		TotalGB:    sizes[0],
		UsedGB:     sizes[1],
		AvailGB:    sizes[2],
		UsePct:     pct,
		MountPoint: fields[len(fields)-1],
	}, nil
}
