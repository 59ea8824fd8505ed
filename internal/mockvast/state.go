package mockvast

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Instance statuses reported in actual_status
const (
	StatusLoading = "loading"
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusExited  = "exited"
)

// Offer is a rentable slice of a machine
type Offer struct {
	ID          int     `json:"id"`
	MachineID   int     `json:"machine_id"`
	HostID      int     `json:"host_id"`
	GPUName     string  `json:"gpu_name"`
	NumGPUs     int     `json:"num_gpus"`
	GPURamMB    int     `json:"gpu_ram"`
	DphTotal    float64 `json:"dph_total"`
	MinBid      float64 `json:"min_bid"`
	Reliability float64 `json:"reliability2"`
	DLPerf      float64 `json:"dlperf"`
	InetUp      float64 `json:"inet_up"`
	InetDown    float64 `json:"inet_down"`
	DiskSpace   float64 `json:"disk_space"`
	CUDAMaxGood float64 `json:"cuda_max_good"`
	Driver      string  `json:"driver_version"`
	Geolocation string  `json:"geolocation"`
	Verified    bool    `json:"verified"`
	External    bool    `json:"external"`
	Rentable    bool    `json:"rentable"`
	Rented      bool    `json:"rented"`
	PublicIP    string  `json:"public_ipaddr"`
}

// Instance is a rented container
type Instance struct {
	ID             int     `json:"id"`
	MachineID      int     `json:"machine_id"`
	HostID         int     `json:"host_id"`
	OfferID        int     `json:"-"`
	ActualStatus   string  `json:"actual_status"`
	IntendedStatus string  `json:"intended_status"`
	CurState       string  `json:"cur_state"`
	StatusMsg      string  `json:"status_msg"`
	Label          string  `json:"label"`
	Image          string  `json:"image_uuid"`
	RunType        string  `json:"image_runtype"`
	GPUName        string  `json:"gpu_name"`
	NumGPUs        int     `json:"num_gpus"`
	DphTotal       float64 `json:"dph_total"`
	DiskSpace      float64 `json:"disk_space"`
	StartDate      float64 `json:"start_date"`
	SSHHost        string  `json:"ssh_host"`
	SSHPort        int     `json:"ssh_port"`
	PublicIP       string  `json:"public_ipaddr,omitempty"`

	Ports map[string][]PortBinding `json:"ports,omitempty"`

	Env     map[string]string `json:"-"`
	OnStart string            `json:"-"`
	Logs    string            `json:"-"`
}

// PortBinding maps a container port to a host port
type PortBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// Machine is a host machine owned by the account
type Machine struct {
	ID          int     `json:"id"`
	Hostname    string  `json:"hostname"`
	GPUName     string  `json:"gpu_name"`
	NumGPUs     int     `json:"num_gpus"`
	Reliability float64 `json:"reliability2"`
	Listed      bool    `json:"listed"`
	ListedGPU   float64 `json:"listed_gpu_cost"`
	MinBid      float64 `json:"min_bid_price"`
	Verified    string  `json:"verification"`
}

// User is the account behind the API key
type User struct {
	ID       int     `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Balance  float64 `json:"balance"`
	Credit   float64 `json:"credit"`
}

// SSHKey is an account-level public key
type SSHKey struct {
	ID        int    `json:"id"`
	PublicKey string `json:"public_key"`
	CreatedAt string `json:"created_at"`
}

// State manages the in-memory marketplace
type State struct {
	mu        sync.RWMutex
	offers    map[int]*Offer
	instances map[int]*Instance
	machines  map[int]*Machine
	sshKeys   map[int]*SSHKey
	secrets   map[string]string
	results   map[string]string
	user      User
	nextID    int

	// Configuration for testing
	createDelay    time.Duration
	failCreate     bool
	failDestroy    bool
	failCreateMsg  string
	failDestroyMsg string
	sshHost        string
	sshPort        int
}

// NewState creates a marketplace with a few default offers and machines
func NewState() *State {
	s := &State{}
	s.reset()
	return s
}

func (s *State) reset() {
	s.instances = make(map[int]*Instance)
	s.sshKeys = make(map[int]*SSHKey)
	s.secrets = make(map[string]string)
	s.results = make(map[string]string)
	s.nextID = 1000
	s.createDelay = 0
	s.failCreate = false
	s.failDestroy = false
	s.failCreateMsg = ""
	s.failDestroyMsg = ""
	s.sshHost = ""
	s.sshPort = 0
	s.user = User{ID: 42, Username: "mock", Email: "mock@example.com", Balance: 25.5, Credit: 100}
	s.initDefaultOffers()
	s.initDefaultMachines()
}

func (s *State) initDefaultOffers() {
	s.offers = map[int]*Offer{}
	defaults := []Offer{
		{ID: 5001, MachineID: 101, HostID: 7, GPUName: "RTX 4090", NumGPUs: 1, GPURamMB: 24564, DphTotal: 0.40, Reliability: 0.99, DLPerf: 50, InetUp: 500, InetDown: 500, DiskSpace: 200, CUDAMaxGood: 12.4, Driver: "550.54", Geolocation: "US"},
		{ID: 5002, MachineID: 102, HostID: 7, GPUName: "RTX 4090", NumGPUs: 2, GPURamMB: 24564, DphTotal: 0.75, Reliability: 0.98, DLPerf: 95, InetUp: 1000, InetDown: 1000, DiskSpace: 400, CUDAMaxGood: 12.4, Driver: "550.54", Geolocation: "DE"},
		{ID: 5003, MachineID: 103, HostID: 8, GPUName: "A100 SXM4", NumGPUs: 1, GPURamMB: 81920, DphTotal: 1.50, Reliability: 0.995, DLPerf: 200, InetUp: 2000, InetDown: 2000, DiskSpace: 1000, CUDAMaxGood: 12.2, Driver: "535.104", Geolocation: "US"},
		{ID: 5004, MachineID: 104, HostID: 9, GPUName: "H100 SXM5", NumGPUs: 1, GPURamMB: 81920, DphTotal: 3.50, Reliability: 0.999, DLPerf: 400, InetUp: 5000, InetDown: 5000, DiskSpace: 2000, CUDAMaxGood: 12.4, Driver: "550.54", Geolocation: "SE"},
	}
	for i := range defaults {
		o := defaults[i]
		o.Verified = true
		o.Rentable = true
		o.MinBid = o.DphTotal / 2
		o.PublicIP = fmt.Sprintf("192.0.2.%d", o.MachineID-100)
		s.offers[o.ID] = &o
	}
}

func (s *State) initDefaultMachines() {
	s.machines = map[int]*Machine{
		101: {ID: 101, Hostname: "rig-a", GPUName: "RTX 4090", NumGPUs: 1, Reliability: 0.99, Listed: true, ListedGPU: 0.40, Verified: "verified"},
		102: {ID: 102, Hostname: "rig-b", GPUName: "RTX 4090", NumGPUs: 2, Reliability: 0.98, Listed: true, ListedGPU: 0.375, Verified: "verified"},
	}
}

// Offers returns offers that are neither rented nor unlisted, cheapest first
func (s *State) Offers() []Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Offer, 0, len(s.offers))
	for _, o := range s.offers {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DphTotal != out[j].DphTotal {
			return out[i].DphTotal < out[j].DphTotal
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddOffer adds or replaces an offer
func (s *State) AddOffer(o Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = &o
}

// CreateInstance rents an offer. The instance turns running after the
// configured delay.
func (s *State) CreateInstance(offerID int, label, image, runType string, disk float64, env map[string]string, onStart string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate {
		msg := s.failCreateMsg
		if msg == "" {
			msg = "simulated create failure"
		}
		return nil, fmt.Errorf("%s", msg)
	}

	offer, ok := s.offers[offerID]
	if !ok {
		return nil, fmt.Errorf("offer not found: %d", offerID)
	}
	if offer.Rented || !offer.Rentable {
		return nil, fmt.Errorf("offer %d is no longer available", offerID)
	}
	offer.Rented = true

	s.nextID++
	inst := &Instance{
		ID:             s.nextID,
		MachineID:      offer.MachineID,
		HostID:         offer.HostID,
		OfferID:        offer.ID,
		ActualStatus:   StatusLoading,
		IntendedStatus: StatusRunning,
		CurState:       StatusRunning,
		StatusMsg:      "pulling image",
		Label:          label,
		Image:          image,
		RunType:        runType,
		GPUName:        offer.GPUName,
		NumGPUs:        offer.NumGPUs,
		DphTotal:       offer.DphTotal,
		DiskSpace:      disk,
		StartDate:      float64(time.Now().Unix()),
		SSHHost:        fmt.Sprintf("ssh%d.mock.vast", offer.HostID%10),
		SSHPort:        20000 + s.nextID%10000,
		Env:            env,
		OnStart:        onStart,
		Logs:           fmt.Sprintf("pulling %s\nstarted\n", image),
	}
	if s.sshHost != "" {
		inst.PublicIP = s.sshHost
		inst.Ports = map[string][]PortBinding{
			"22/tcp": {{HostIP: "0.0.0.0", HostPort: strconv.Itoa(s.sshPort)}},
		}
	}
	s.instances[inst.ID] = inst

	id := inst.ID
	delay := s.createDelay
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.instances[id]; ok && cur.ActualStatus == StatusLoading {
			cur.ActualStatus = StatusRunning
			cur.StatusMsg = "success, running " + cur.Image
		}
	}()

	copied := *inst
	return &copied, nil
}

// Instance returns a copy of an instance by ID
func (s *State) Instance(id int) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Instances returns copies of all instances ordered by ID
func (s *State) Instances() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DestroyInstance removes an instance and frees its offer
func (s *State) DestroyInstance(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failDestroy {
		msg := s.failDestroyMsg
		if msg == "" {
			msg = "simulated destroy failure"
		}
		return fmt.Errorf("%s", msg)
	}

	inst, ok := s.instances[id]
	if !ok {
		return ErrNoSuchInstance
	}
	if offer, ok := s.offers[inst.OfferID]; ok {
		offer.Rented = false
	}
	delete(s.instances, id)
	return nil
}

// UpdateInstance applies a state or label change
func (s *State) UpdateInstance(id int, state, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return ErrNoSuchInstance
	}
	switch state {
	case "":
	case StatusRunning, StatusStopped:
		inst.IntendedStatus = state
		inst.CurState = state
		inst.ActualStatus = state
	default:
		return fmt.Errorf("invalid state %q", state)
	}
	if label != "" {
		inst.Label = label
	}
	return nil
}

// StoreResult saves a log or command output and returns its token
func (s *State) StoreResult(body string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	token := fmt.Sprintf("r%d", s.nextID)
	s.results[token] = body
	return token
}

// Result returns a stored result
func (s *State) Result(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.results[token]
	return body, ok
}

// User returns the account
func (s *State) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Machines returns hosted machines ordered by ID
func (s *State) Machines() []Machine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Machine, 0, len(s.machines))
	for _, m := range s.machines {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListMachine marks a machine listed at a GPU price
func (s *State) ListMachine(id int, priceGPU float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return fmt.Errorf("machine %d not found", id)
	}
	m.Listed = true
	if priceGPU > 0 {
		m.ListedGPU = priceGPU
	}
	return nil
}

// UnlistMachine removes a machine's asks
func (s *State) UnlistMachine(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return fmt.Errorf("machine %d not found", id)
	}
	m.Listed = false
	return nil
}

// SSHKeys returns account keys ordered by ID
func (s *State) SSHKeys() []SSHKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SSHKey, 0, len(s.sshKeys))
	for _, k := range s.sshKeys {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddSSHKey stores an account key
func (s *State) AddSSHKey(key string) SSHKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	k := &SSHKey{ID: s.nextID, PublicKey: key, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	s.sshKeys[k.ID] = k
	return *k
}

// DeleteSSHKey removes an account key
func (s *State) DeleteSSHKey(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sshKeys[id]; !ok {
		return false
	}
	delete(s.sshKeys, id)
	return true
}

// Secrets returns a copy of the account env vars
func (s *State) Secrets() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		out[k] = v
	}
	return out
}

// SetSecret creates or replaces an env var. create fails when the key exists.
func (s *State) SetSecret(key, value string, create bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.secrets[key]; exists && create {
		return fmt.Errorf("env var %s already exists", key)
	}
	if _, exists := s.secrets[key]; !exists && !create {
		return fmt.Errorf("env var %s does not exist", key)
	}
	s.secrets[key] = value
	return nil
}

// DeleteSecret removes an env var
func (s *State) DeleteSecret(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[key]; !ok {
		return false
	}
	delete(s.secrets, key)
	return true
}

// SetCreateDelay sets the delay before an instance turns running
func (s *State) SetCreateDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createDelay = d
}

// SetFailCreate configures create to fail
func (s *State) SetFailCreate(fail bool, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = fail
	s.failCreateMsg = msg
}

// SetFailDestroy configures destroy to fail
func (s *State) SetFailDestroy(fail bool, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDestroy = fail
	s.failDestroyMsg = msg
}

// SetSSHEndpoint makes new instances advertise a direct SSH mapping to
// host:port, so tests can point them at a local sshd.
func (s *State) SetSSHEndpoint(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sshHost = host
	s.sshPort = port
}

// Reset restores the default marketplace
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}
