// Package mockvast serves an in-memory marketplace speaking the /api/v0
// protocol, for tests and local demos.
package mockvast

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrNoSuchInstance is returned for unknown instance IDs
var ErrNoSuchInstance = errors.New("no such instance")

// DefaultAPIKey is accepted when no key is configured
const DefaultAPIKey = "mock-api-key"

// Server is the mock marketplace API server
type Server struct {
	state  *State
	router *gin.Engine
	logger *slog.Logger
	apiKey string
}

// Option configures a Server
type Option func(*Server)

// WithAPIKey sets the bearer token the server accepts
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new mock marketplace server
func NewServer(state *State, opts ...Option) *Server {
	if state == nil {
		state = NewState()
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		state:  state,
		router: router,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		apiKey: DefaultAPIKey,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// State returns the underlying state for test manipulation
func (s *Server) State() *State {
	return s.state
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v0")

	// search is anonymous
	api.GET("/bundles/", s.handleSearchOffers)

	authed := api.Group("", s.requireAPIKey)
	authed.PUT("/asks/:id/", s.handleCreateInstance)

	authed.GET("/instances/", s.handleListInstances)
	authed.GET("/instances/:id/", s.handleGetInstance)
	authed.PUT("/instances/:id/", s.handleUpdateInstance)
	authed.DELETE("/instances/:id/", s.handleDestroyInstance)
	authed.POST("/instances/:id/ssh/", s.handleAttachSSHKey)
	authed.PUT("/instances/reboot/:id/", s.handleReboot)
	authed.PUT("/instances/request_logs/:id/", s.handleRequestLogs)
	authed.PUT("/instances/command/:id/", s.handleExecute)

	authed.GET("/users/current", s.handleCurrentUser)

	authed.GET("/machines", s.handleListMachines)
	authed.PUT("/machines/create_asks/", s.handleListMachine)
	authed.DELETE("/machines/:id/asks/", s.handleUnlistMachine)

	authed.GET("/ssh/", s.handleListSSHKeys)
	authed.POST("/ssh/", s.handleCreateSSHKey)
	authed.DELETE("/ssh/:id/", s.handleDeleteSSHKey)

	authed.GET("/secrets/", s.handleListSecrets)
	authed.POST("/secrets/", s.handleWriteSecret)
	authed.PUT("/secrets/", s.handleWriteSecret)
	authed.DELETE("/secrets/", s.handleDeleteSecret)

	// uploaded results are fetched without credentials
	s.router.GET("/_results/:token", s.handleResult)

	// Health check
	s.router.GET("/health", s.handleHealth)

	// Test control endpoints
	s.router.POST("/_test/reset", s.handleTestReset)
	s.router.POST("/_test/config", s.handleTestConfig)
}

func (s *Server) requireAPIKey(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token != s.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid_api_key", "msg": "Invalid or missing API key"})
		return
	}
	c.Next()
}

func failure(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "msg": msg})
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		failure(c, http.StatusBadRequest, fmt.Sprintf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func (s *Server) handleSearchOffers(c *gin.Context) {
	doc, err := parseSearch(c.Query("q"))
	if err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}

	offers := s.state.Offers()
	rows := make([]map[string]any, 0, len(offers))
	for _, o := range offers {
		rows = append(rows, toRow(o))
	}
	rows, err = doc.apply(rows)
	if err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": rows})
}

// CreateInstanceRequest is the body of PUT /asks/:id/
type CreateInstanceRequest struct {
	ClientID string            `json:"client_id"`
	Image    string            `json:"image"`
	Env      map[string]string `json:"env"`
	Disk     float64           `json:"disk"`
	Label    string            `json:"label"`
	OnStart  string            `json:"onstart"`
	RunType  string            `json:"runtype"`
}

// CreateInstanceResponse is the reply to a rental
type CreateInstanceResponse struct {
	Success     bool   `json:"success"`
	NewContract int    `json:"new_contract,omitempty"`
	Error       string `json:"error,omitempty"`
	Msg         string `json:"msg,omitempty"`
}

func (s *Server) handleCreateInstance(c *gin.Context) {
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CreateInstanceResponse{Error: "invalid_args", Msg: err.Error()})
		return
	}
	if req.Image == "" {
		c.JSON(http.StatusBadRequest, CreateInstanceResponse{Error: "invalid_args", Msg: "image is required"})
		return
	}

	inst, err := s.state.CreateInstance(offerID, req.Label, req.Image, req.RunType, req.Disk, req.Env, req.OnStart)
	if err != nil {
		s.logger.Error("failed to create instance", "error", err, "offer_id", offerID)
		c.JSON(http.StatusBadRequest, CreateInstanceResponse{Error: "no_such_ask", Msg: err.Error()})
		return
	}

	s.logger.Info("instance created", "instance_id", inst.ID, "offer_id", offerID, "label", inst.Label)
	c.JSON(http.StatusOK, CreateInstanceResponse{Success: true, NewContract: inst.ID})
}

func (s *Server) handleListInstances(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instances": s.state.Instances()})
}

func (s *Server) handleGetInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	inst, found := s.state.Instance(id)
	if !found {
		failure(c, http.StatusNotFound, "instance not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": inst})
}

// UpdateInstanceRequest changes state or label
type UpdateInstanceRequest struct {
	State string `json:"state"`
	Label string `json:"label"`
}

func (s *Server) handleUpdateInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.state.UpdateInstance(id, req.State, req.Label); err != nil {
		s.instanceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDestroyInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.state.DestroyInstance(id); err != nil {
		s.logger.Error("failed to destroy instance", "error", err, "instance_id", id)
		s.instanceError(c, err)
		return
	}
	s.logger.Info("instance destroyed", "instance_id", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleReboot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, found := s.state.Instance(id); !found {
		failure(c, http.StatusNotFound, "instance not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) instanceError(c *gin.Context, err error) {
	if errors.Is(err, ErrNoSuchInstance) {
		failure(c, http.StatusNotFound, err.Error())
		return
	}
	failure(c, http.StatusBadRequest, err.Error())
}

// AttachSSHKeyRequest is the body of POST /instances/:id/ssh/
type AttachSSHKeyRequest struct {
	SSHKey string `json:"ssh_key"`
}

func (s *Server) handleAttachSSHKey(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req AttachSSHKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SSHKey == "" {
		failure(c, http.StatusBadRequest, "ssh_key is required")
		return
	}

	// Verify instance exists
	if _, found := s.state.Instance(id); !found {
		failure(c, http.StatusNotFound, "instance not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "msg": "ssh key attached"})
}

func (s *Server) handleRequestLogs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	inst, found := s.state.Instance(id)
	if !found {
		failure(c, http.StatusNotFound, "instance not found")
		return
	}
	token := s.state.StoreResult(inst.Logs)
	c.JSON(http.StatusOK, gin.H{"success": true, "result_url": s.resultURL(c, token)})
}

// ExecuteRequest is the body of PUT /instances/command/:id/
type ExecuteRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleExecute(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Command == "" {
		failure(c, http.StatusBadRequest, "command is required")
		return
	}
	if _, found := s.state.Instance(id); !found {
		failure(c, http.StatusNotFound, "instance not found")
		return
	}
	token := s.state.StoreResult(fmt.Sprintf("$ %s\n", req.Command))
	c.JSON(http.StatusOK, gin.H{"success": true, "result_url": s.resultURL(c, token)})
}

func (s *Server) resultURL(c *gin.Context, token string) string {
	return fmt.Sprintf("http://%s/_results/%s", c.Request.Host, token)
}

func (s *Server) handleResult(c *gin.Context) {
	body, ok := s.state.Result(c.Param("token"))
	if !ok {
		c.String(http.StatusNotFound, "not found")
		return
	}
	c.String(http.StatusOK, body)
}

func (s *Server) handleCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.User())
}

func (s *Server) handleListMachines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"machines": s.state.Machines()})
}

// ListMachineRequest is the body of PUT /machines/create_asks/
type ListMachineRequest struct {
	Machine  int     `json:"machine"`
	PriceGPU float64 `json:"price_gpu"`
}

func (s *Server) handleListMachine(c *gin.Context) {
	var req ListMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.state.ListMachine(req.Machine, req.PriceGPU); err != nil {
		failure(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "msg": fmt.Sprintf("machine %d listed", req.Machine)})
}

func (s *Server) handleUnlistMachine(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.state.UnlistMachine(id); err != nil {
		failure(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleListSSHKeys(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.SSHKeys())
}

// SSHKeyRequest is the body of POST /ssh/
type SSHKeyRequest struct {
	SSHKey string `json:"ssh_key"`
}

func (s *Server) handleCreateSSHKey(c *gin.Context) {
	var req SSHKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SSHKey == "" {
		failure(c, http.StatusBadRequest, "ssh_key is required")
		return
	}
	key := s.state.AddSSHKey(req.SSHKey)
	c.JSON(http.StatusOK, gin.H{"success": true, "key": key})
}

func (s *Server) handleDeleteSSHKey(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !s.state.DeleteSSHKey(id) {
		failure(c, http.StatusNotFound, "ssh key not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleListSecrets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"secrets": s.state.Secrets()})
}

// SecretRequest is the body of the /secrets/ writes
type SecretRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleWriteSecret(c *gin.Context) {
	var req SecretRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		failure(c, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.state.SetSecret(req.Key, req.Value, c.Request.Method == http.MethodPost); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteSecret(c *gin.Context) {
	var req SecretRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		failure(c, http.StatusBadRequest, "key is required")
		return
	}
	if !s.state.DeleteSecret(req.Key) {
		c.JSON(http.StatusOK, gin.H{"success": false, "msg": fmt.Sprintf("env var %s does not exist", req.Key)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "mock-vast-marketplace",
	})
}

// Test control handlers

func (s *Server) handleTestReset(c *gin.Context) {
	s.state.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// TestConfig is the configuration for test behavior
type TestConfig struct {
	CreateDelayMs  int    `json:"create_delay_ms"`
	FailCreate     bool   `json:"fail_create"`
	FailDestroy    bool   `json:"fail_destroy"`
	FailCreateMsg  string `json:"fail_create_msg"`
	FailDestroyMsg string `json:"fail_destroy_msg"`
	SSHHost        string `json:"ssh_host"`
	SSHPort        int    `json:"ssh_port"`
}

func (s *Server) handleTestConfig(c *gin.Context) {
	var config TestConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if config.CreateDelayMs > 0 {
		s.state.SetCreateDelay(time.Duration(config.CreateDelayMs) * time.Millisecond)
	}
	s.state.SetFailCreate(config.FailCreate, config.FailCreateMsg)
	s.state.SetFailDestroy(config.FailDestroy, config.FailDestroyMsg)
	if config.SSHHost != "" {
		s.state.SetSSHEndpoint(config.SSHHost, config.SSHPort)
	}

	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

// Run starts the server on the specified address
func (s *Server) Run(addr string) error {
	s.logger.Info("starting mock marketplace", "addr", addr)
	return s.router.Run(addr)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
