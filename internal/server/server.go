package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/LATTIS/internal/config"
	"github.com/copyleftdev/LATTIS/internal/logging"
	"github.com/copyleftdev/LATTIS/internal/optimization"
	"github.com/copyleftdev/LATTIS/internal/optimization/basinhopping"
	"github.com/copyleftdev/LATTIS/internal/optimization/calculators"
	"github.com/copyleftdev/LATTIS/internal/optimization/features"
	"github.com/copyleftdev/LATTIS/internal/optimization/montecarlo"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// SearchState tracks one ordering-search job. It is guarded by the server's
// mutex and safe for concurrent access.
type SearchState struct {
	ID          string
	Method      string // "montecarlo" or "basinhopping"
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time

	BestEnergy  *float64
	BestSymbols []string
	Steps       int
	Error       string

	Searcher   optimization.Searcher
	CancelFunc context.CancelFunc
}

// Server implements the HTTP and JSON-RPC surface of the ordering-search
// service. It manages search jobs and provides endpoints to start, monitor,
// and cancel them.
type Server struct {
	cfg    *config.Config
	logger Logger

	searches   map[string]*SearchState
	searchesMu sync.RWMutex // Protects the searches map
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		searches: make(map[string]*SearchState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/searches", s.handleSubmit)
		r.Get("/searches/{id}", s.handleStatus)
		r.Delete("/searches/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// latticeRequest describes the geometry of a search job. Either a named
// topology ("ring" with a site count) or explicit positions with a cutoff.
type latticeRequest struct {
	Type      string       `json:"type"`
	Sites     int          `json:"sites,omitempty"`
	Positions [][3]float64 `json:"positions,omitempty"`
	Cell      [3]float64   `json:"cell,omitempty"`
	Cutoff    float64      `json:"cutoff,omitempty"`
}

// searchRequest is the submission payload shared by the REST and JSON-RPC
// surfaces. Zero-valued search parameters fall back to the configured
// defaults.
type searchRequest struct {
	Method  string         `json:"method"`
	Lattice latticeRequest `json:"lattice"`

	// Either an explicit ordering or a stoichiometry to randomize
	Symbols       []string       `json:"symbols,omitempty"`
	Stoichiometry map[string]int `json:"stoichiometry,omitempty"`

	// Per-class environment energies of the linear model
	Coefficients []float64 `json:"coefficients"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxSteps    int     `json:"max_steps,omitempty"`
	Attempts    int     `json:"attempts,omitempty"`
	Hops        int     `json:"hops,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, -32600, "Invalid Request", nil)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "search.start":
		var req searchRequest
		if err := json.Unmarshal(request.Params, &req); err != nil {
			s.respondWithError(w, -32602, "Invalid params", request.ID)
			return
		}
		result, err = s.startSearch(req)
	case "search.status":
		var params struct {
			SearchID string `json:"search_id"`
		}
		if err := json.Unmarshal(request.Params, &params); err != nil {
			s.respondWithError(w, -32602, "Invalid params", request.ID)
			return
		}
		result, err = s.searchStatus(params.SearchID)
	case "search.cancel":
		var params struct {
			SearchID string `json:"search_id"`
		}
		if err := json.Unmarshal(request.Params, &params); err != nil {
			s.respondWithError(w, -32602, "Invalid params", request.ID)
			return
		}
		err = s.cancelSearch(params.SearchID)
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, -32000, err.Error(), request.ID)
		return
	}

	// Send successful response
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// startSearch validates a submission, builds the configuration and driver,
// and launches the search in a goroutine.
func (s *Server) startSearch(req searchRequest) (interface{}, error) {
	p, err := buildParticle(req)
	if err != nil {
		return nil, err
	}

	species := p.AllSymbols()
	if len(species) != 2 {
		return nil, fmt.Errorf("search requires exactly two species, got %d", len(species))
	}
	classifier, err := features.NewTopologicalClassifier(species[0], species[1], p.NeighborList())
	if err != nil {
		return nil, err
	}
	if len(req.Coefficients) != classifier.NFeatures() {
		return nil, fmt.Errorf("got %d coefficients, lattice needs %d",
			len(req.Coefficients), classifier.NFeatures())
	}

	calc := calculators.NewRidgeCalculator(particle.FeatureTopological, 0.1)
	calc.SetCoefficients(req.Coefficients)

	seed := req.Seed
	if seed == 0 {
		seed = s.cfg.Search.Seed
	}

	var searcher optimization.Searcher
	switch req.Method {
	case "", "montecarlo":
		req.Method = "montecarlo"
		mcCfg := montecarlo.Config{
			Temperature: req.Temperature,
			MaxSteps:    req.MaxSteps,
			Seed:        seed,
			VerifyEvery: s.cfg.Search.VerifyEvery,
		}
		if mcCfg.Temperature == 0 {
			mcCfg.Temperature = s.cfg.Search.Temperature
		}
		if mcCfg.MaxSteps == 0 {
			mcCfg.MaxSteps = s.cfg.Search.MaxSteps
		}
		searcher, err = montecarlo.New(mcCfg, calc, classifier)
	case "basinhopping":
		bhCfg := basinhopping.Config{
			Attempts: req.Attempts,
			Hops:     req.Hops,
			Seed:     seed,
		}
		if bhCfg.Attempts == 0 {
			bhCfg.Attempts = s.cfg.Search.Attempts
		}
		if bhCfg.Hops == 0 {
			bhCfg.Hops = s.cfg.Search.Hops
		}
		searcher, err = basinhopping.New(bhCfg, calc, classifier, req.Coefficients)
	default:
		return nil, fmt.Errorf("unknown search method %q", req.Method)
	}
	if err != nil {
		return nil, err
	}

	// Generate a unique ID for this search
	id := fmt.Sprintf("search_%d", time.Now().UnixNano())

	ctx, cancel := context.WithCancel(context.Background())

	state := &SearchState{
		ID:          id,
		Method:      req.Method,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Searcher:    searcher,
		CancelFunc:  cancel,
	}

	s.searchesMu.Lock()
	s.searches[id] = state
	s.searchesMu.Unlock()

	searchesSubmitted.WithLabelValues(req.Method).Inc()
	searchesRunning.Inc()

	go s.runSearch(ctx, state, p)

	return map[string]interface{}{
		"search_id": id,
		"status":    "pending",
	}, nil
}

// buildParticle constructs the starting configuration from a submission.
func buildParticle(req searchRequest) (*particle.Particle, error) {
	var nl *particle.NeighborList
	var nSites int
	var err error

	switch req.Lattice.Type {
	case "ring":
		nSites = req.Lattice.Sites
		nl, err = particle.RingLattice(nSites)
	case "positions":
		nSites = len(req.Lattice.Positions)
		positions := make([]r3.Vec, nSites)
		for i, pos := range req.Lattice.Positions {
			positions[i] = r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}
		}
		cell := r3.Vec{X: req.Lattice.Cell[0], Y: req.Lattice.Cell[1], Z: req.Lattice.Cell[2]}
		nl, err = particle.FromPositions(positions, cell, req.Lattice.Cutoff)
	default:
		return nil, fmt.Errorf("unknown lattice type %q", req.Lattice.Type)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case len(req.Symbols) > 0:
		return particle.New(req.Symbols, nl)
	case len(req.Stoichiometry) > 0:
		p, err := particle.New(make([]string, nSites), nl)
		if err != nil {
			return nil, err
		}
		seed := req.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		if err := p.RandomOrdering(req.Stoichiometry, rand.New(rand.NewSource(seed))); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("either symbols or stoichiometry is required")
	}
}

// runSearch executes a search job in a goroutine and records its outcome.
func (s *Server) runSearch(ctx context.Context, state *SearchState, p *particle.Particle) {
	defer searchesRunning.Dec()

	s.searchesMu.Lock()
	state.Status = "running"
	state.LastUpdated = time.Now()
	s.searchesMu.Unlock()

	result, err := state.Searcher.Search(ctx, p)

	s.searchesMu.Lock()
	defer s.searchesMu.Unlock()

	// Cancellation may have already marked the state; keep that verdict.
	if state.Status == "cancelled" {
		searchesCompleted.WithLabelValues(state.Method, "cancelled").Inc()
		return
	}

	if err != nil {
		s.logger.Error("Search failed", map[string]interface{}{
			"search_id": state.ID,
			"error":     err.Error(),
		})
		state.Status = "failed"
		state.Error = err.Error()
	} else {
		state.Status = "completed"
		state.Steps = result.Steps
		state.BestSymbols = result.Best.Symbols()
		trace := result.AcceptedEnergies
		if state.Method == "basinhopping" {
			trace = result.LowestEnergies
		}
		best := optimization.LowestEnergy(trace)
		state.BestEnergy = &best
	}
	searchesCompleted.WithLabelValues(state.Method, state.Status).Inc()

	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
}

// searchStatus returns the current status and results of a search job.
func (s *Server) searchStatus(id string) (interface{}, error) {
	if id == "" {
		return nil, fmt.Errorf("search_id is required")
	}

	s.searchesMu.RLock()
	defer s.searchesMu.RUnlock()

	state, exists := s.searches[id]
	if !exists {
		return nil, fmt.Errorf("search not found")
	}

	response := map[string]interface{}{
		"search_id":   state.ID,
		"method":      state.Method,
		"status":      state.Status,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}

	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	if state.BestEnergy != nil {
		ordering := append([]string(nil), state.BestSymbols...)
		response["best"] = map[string]interface{}{
			"energy":  *state.BestEnergy,
			"symbols": ordering,
		}
		response["steps"] = state.Steps
	}

	return response, nil
}

// cancelSearch cancels a running search job.
func (s *Server) cancelSearch(id string) error {
	if id == "" {
		return fmt.Errorf("search_id is required")
	}

	s.searchesMu.Lock()
	defer s.searchesMu.Unlock()

	state, exists := s.searches[id]
	if !exists {
		return fmt.Errorf("search not found")
	}

	switch state.Status {
	case "completed", "failed", "cancelled":
		// Already in a terminal state
		return fmt.Errorf("cannot cancel search with status: %s", state.Status)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}

	state.Status = "cancelled"
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Search cancelled", map[string]interface{}{
		"search_id": id,
	})

	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// Close cleans up resources
func (s *Server) Close() error {
	// Cancel all running searches
	s.searchesMu.Lock()
	defer s.searchesMu.Unlock()

	for _, state := range s.searches {
		if state.CancelFunc != nil {
			state.CancelFunc()
		}
	}
	return nil
}

// ListSearches returns the IDs of all known search jobs in submission order.
func (s *Server) ListSearches() []string {
	s.searchesMu.RLock()
	defer s.searchesMu.RUnlock()

	ids := make([]string, 0, len(s.searches))
	for id := range s.searches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// handleSubmit handles the HTTP POST /searches endpoint for starting a search
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := s.startSearch(req)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

// handleStatus handles the HTTP GET /searches/:id endpoint
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing search ID", http.StatusBadRequest)
		return
	}

	result, err := s.searchStatus(id)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// handleCancel handles the HTTP DELETE /searches/:id endpoint
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing search ID", http.StatusBadRequest)
		return
	}

	err := s.cancelSearch(id)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "cancellation requested",
	})
}
