// Package selftest rents each machine briefly, checks it comes up and that
// its GPUs look sane, then destroys the instance.
package selftest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vastctl/vastctl/internal/logging"
	"github.com/vastctl/vastctl/internal/ssh"
	"github.com/vastctl/vastctl/internal/storage"
	"github.com/vastctl/vastctl/pkg/vast"
)

const (
	// DefaultImage is the container rented for a self-test
	DefaultImage = "vastai/test:selftest"

	// DefaultDiskGB is the disk requested for the test instance
	DefaultDiskGB = 20

	// DefaultReadyTimeout bounds the wait for the instance to reach running
	DefaultReadyTimeout = 10 * time.Minute

	// DefaultPollInterval is how often instance status and SSH are polled
	DefaultPollInterval = 10 * time.Second

	// DefaultSSHTimeout bounds the wait for sshd once the instance runs
	DefaultSSHTimeout = 3 * time.Minute

	// DefaultDestroyRetries is how many times destroy is attempted
	DefaultDestroyRetries = 3

	// destroyTimeout bounds cleanup, which runs even after ctx is cancelled
	destroyTimeout = 2 * time.Minute
)

// API is the subset of the marketplace client the harness needs.
type API interface {
	SearchOffers(ctx context.Context, q vast.Query, opts vast.SearchOptions) ([]vast.Record, error)
	CreateInstance(ctx context.Context, offerID int, req vast.CreateInstanceRequest) (*vast.CreateInstanceResponse, error)
	WaitForStatus(ctx context.Context, id int, status string, interval time.Duration) (vast.Instance, error)
	DestroyInstance(ctx context.Context, id int) (vast.Record, error)
}

// Inspector reaches a running instance and inspects its GPUs.
type Inspector interface {
	WaitReachable(ctx context.Context, t ssh.Target, timeout, interval time.Duration) (*ssh.Connection, int, error)
	Inspect(ctx context.Context, conn *ssh.Connection) (*ssh.Report, error)
}

// ResultStore persists results.
type ResultStore interface {
	Record(ctx context.Context, r *storage.SelfTestRecord) error
}

// MetricsSink receives one observation per tested machine.
type MetricsSink interface {
	RecordSelfTest(machineID int, passed bool, duration time.Duration, at time.Time)
}

// Compile-time checks against the real implementations
var (
	_ API         = (*vast.Client)(nil)
	_ Inspector   = (*ssh.Dialer)(nil)
	_ ResultStore = (*storage.SelfTestStore)(nil)
)

// Result is the outcome of testing one machine.
type Result struct {
	RunID      string        `json:"run_id"`
	MachineID  int           `json:"machine_id"`
	OfferID    int           `json:"offer_id"`
	InstanceID int           `json:"instance_id"`
	GPUName    string        `json:"gpu_name,omitempty"`
	Passed     bool          `json:"passed"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	StartedAt  time.Time     `json:"started_at"`

	Report *ssh.Report `json:"-"`
}

// Record flattens the result for table and JSON output.
func (r Result) Record() vast.Record {
	rec := vast.Record{
		"run_id":      r.RunID,
		"machine_id":  r.MachineID,
		"offer_id":    r.OfferID,
		"instance_id": r.InstanceID,
		"gpu_name":    r.GPUName,
		"passed":      r.Passed,
		"reason":      r.Reason,
		"duration":    r.Duration.Round(time.Second).String(),
		"started_at":  float64(r.StartedAt.Unix()),
	}
	if r.Report != nil && r.Report.CUDA != nil {
		rec["cuda"] = r.Report.CUDA.Version
	}
	return rec
}

// Harness runs self-tests one machine at a time.
type Harness struct {
	api       API
	inspector Inspector
	store     ResultStore
	metrics   MetricsSink
	logger    *slog.Logger

	image          string
	diskGB         float64
	sshUser        string
	readyTimeout   time.Duration
	sshTimeout     time.Duration
	pollInterval   time.Duration
	destroyRetries int
	now            func() time.Time
}

// Option configures the harness
type Option func(*Harness)

// WithInspector enables the SSH stage. Without one, reaching running passes.
func WithInspector(p Inspector) Option {
	return func(h *Harness) {
		h.inspector = p
	}
}

// WithStore appends every result to a history store
func WithStore(s ResultStore) Option {
	return func(h *Harness) {
		h.store = s
	}
}

// WithMetrics reports every result to a metrics sink
func WithMetrics(m MetricsSink) Option {
	return func(h *Harness) {
		h.metrics = m
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithImage sets the container image rented for the test
func WithImage(image string) Option {
	return func(h *Harness) {
		h.image = image
	}
}

// WithDisk sets the disk size in GB
func WithDisk(gb float64) Option {
	return func(h *Harness) {
		h.diskGB = gb
	}
}

// WithSSHUser sets the login user for the SSH stage
func WithSSHUser(user string) Option {
	return func(h *Harness) {
		h.sshUser = user
	}
}

// WithTimeouts sets the running and SSH deadlines
func WithTimeouts(ready, sshWait time.Duration) Option {
	return func(h *Harness) {
		if ready > 0 {
			h.readyTimeout = ready
		}
		if sshWait > 0 {
			h.sshTimeout = sshWait
		}
	}
}

// WithPollInterval sets how often status and SSH are polled
func WithPollInterval(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithDestroyRetries sets how many destroy attempts are made
func WithDestroyRetries(n int) Option {
	return func(h *Harness) {
		if n > 0 {
			h.destroyRetries = n
		}
	}
}

// New creates a harness
func New(api API, opts ...Option) *Harness {
	h := &Harness{
		api:            api,
		logger:         slog.Default(),
		image:          DefaultImage,
		diskGB:         DefaultDiskGB,
		readyTimeout:   DefaultReadyTimeout,
		sshTimeout:     DefaultSSHTimeout,
		pollInterval:   DefaultPollInterval,
		destroyRetries: DefaultDestroyRetries,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run tests each machine in order under a fresh run ID. A machine failing
// its test is reported in its Result, not as an error. The error reports a
// cancelled ctx or results that could not be stored; the results gathered
// so far are returned with it.
func (h *Harness) Run(ctx context.Context, machineIDs []int) ([]Result, error) {
	if len(machineIDs) == 0 {
		return nil, &vast.ValidationError{Field: "machine ids", Message: "at least one is required"}
	}
	for _, id := range machineIDs {
		if id <= 0 {
			return nil, &vast.ValidationError{Field: "machine id", Message: fmt.Sprintf("%d is not a positive integer", id)}
		}
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	var results []Result
	var errs []error
	for _, id := range machineIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res := h.TestMachine(ctx, runID, id)
		if err := h.persist(ctx, res); err != nil {
			errs = append(errs, err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// TestMachine runs the full rent, wait, inspect and destroy cycle on one
// machine. The instance is destroyed on every path once it exists.
func (h *Harness) TestMachine(ctx context.Context, runID string, machineID int) (res Result) {
	res = Result{RunID: runID, MachineID: machineID, StartedAt: h.now()}
	log := h.logger.With(slog.String("run_id", runID), slog.Int("machine_id", machineID))

	defer func() {
		res.Duration = h.now().Sub(res.StartedAt)
		log.Info("self-test finished",
			slog.Bool("passed", res.Passed),
			slog.String("reason", res.Reason),
			slog.Duration("duration", res.Duration))
	}()

	offer, err := h.findOffer(ctx, machineID)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	res.OfferID = offer.ID
	res.GPUName = offer.GPUName

	resp, err := h.api.CreateInstance(ctx, offer.ID, vast.CreateInstanceRequest{
		Image:   h.image,
		Disk:    h.diskGB,
		Label:   "selftest-" + runID,
		RunType: "ssh_direct",
	})
	if err != nil {
		res.Reason = fmt.Sprintf("failed to create instance: %v", err)
		return res
	}
	res.InstanceID = resp.NewContract
	log = log.With(slog.Int("instance_id", res.InstanceID))
	log.Info("self-test instance created", slog.Int("offer_id", offer.ID))

	defer func() {
		if err := h.destroy(ctx, res.InstanceID, log); err != nil {
			res.Passed = false
			res.Reason = joinReason(res.Reason, err.Error())
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, h.readyTimeout)
	inst, err := h.api.WaitForStatus(waitCtx, res.InstanceID, "running", h.pollInterval)
	cancel()
	if err != nil {
		res.Reason = fmt.Sprintf("instance did not reach running within %s: %v", h.readyTimeout, err)
		return res
	}

	if h.inspector != nil {
		report, err := h.inspect(ctx, inst, offer.NumGPUs)
		res.Report = report
		if err != nil {
			res.Reason = err.Error()
			return res
		}
		if len(report.GPUs) > 0 {
			res.GPUName = report.GPUs[0].Name
		}
	}

	res.Passed = true
	return res
}

func (h *Harness) findOffer(ctx context.Context, machineID int) (vast.Offer, error) {
	q := vast.Query{
		"machine_id": {"eq": machineID},
		"rentable":   {"eq": true},
		"rented":     {"eq": false},
	}
	offers, err := h.api.SearchOffers(ctx, q, vast.SearchOptions{
		Type:  vast.OfferOnDemand,
		Order: [][]string{{"dph_total", "asc"}},
		Limit: 10,
	})
	if err != nil {
		return vast.Offer{}, fmt.Errorf("failed to search offers: %w", err)
	}
	offer, ok := vast.CheapestOffer(offers)
	if !ok {
		return vast.Offer{}, fmt.Errorf("no rentable offer on machine %d", machineID)
	}
	return offer, nil
}

func (h *Harness) inspect(ctx context.Context, inst vast.Instance, wantGPUs int) (*ssh.Report, error) {
	host, port, err := inst.SSHAddress()
	if err != nil {
		return nil, err
	}
	target := ssh.Target{Host: host, Port: port, User: h.sshUser}
	conn, attempts, err := h.inspector.WaitReachable(ctx, target, h.sshTimeout, h.pollInterval)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	h.logger.Debug("ssh reachable", slog.String("addr", target.Addr()), slog.Int("attempts", attempts))

	report, err := h.inspector.Inspect(ctx, conn)
	if err != nil {
		return nil, err
	}
	if err := report.Check(wantGPUs, h.diskGB); err != nil {
		return report, err
	}
	return report, nil
}

// destroy tears the instance down with its own deadline so an interrupted
// run still cleans up. An instance that is already gone counts as done.
func (h *Harness) destroy(ctx context.Context, id int, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= h.destroyRetries; attempt++ {
		_, err := h.api.DestroyInstance(ctx, id)
		if err == nil || vast.IsNotFound(err) {
			log.Info("self-test instance destroyed", slog.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		log.Warn("destroy attempt failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to destroy instance %d: %w", id, ctx.Err())
		case <-time.After(time.Duration(attempt) * h.pollInterval / 4):
		}
	}

	log.Error("CRITICAL: self-test instance left running", slog.Int("attempts", h.destroyRetries))
	return fmt.Errorf("failed to destroy instance %d after %d attempts: %w", id, h.destroyRetries, lastErr)
}

func (h *Harness) persist(ctx context.Context, res Result) error {
	if h.metrics != nil {
		h.metrics.RecordSelfTest(res.MachineID, res.Passed, res.Duration, res.StartedAt)
	}
	logging.Audit(ctx, "selftest_machine",
		"machine_id", res.MachineID,
		"instance_id", res.InstanceID,
		"passed", res.Passed)

	if h.store == nil {
		return nil
	}
	rec := &storage.SelfTestRecord{
		RunID:      res.RunID,
		MachineID:  res.MachineID,
		OfferID:    res.OfferID,
		InstanceID: res.InstanceID,
		GPUName:    res.GPUName,
		Passed:     res.Passed,
		Reason:     res.Reason,
		Duration:   res.Duration,
		StartedAt:  res.StartedAt,
	}
	if err := h.store.Record(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("failed to store result for machine %d: %w", res.MachineID, err)
	}
	return nil
}

func joinReason(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
