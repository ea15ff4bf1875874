// Package rpc is the shared HTTP RPC surface every party (Coordinator and
// peer) exposes so the rest of the engine's packages can call each other
// over the network. A Server mostly answers passively — its handlers are
// thin adapters onto internal/dkg.Session, internal/roleassign.Assigner,
// internal/threshold.Service and internal/action.HandleRequestAction; the
// only state this package itself owns is the lazy construction of those
// services once DKG completes, and this party's own current
// role/liveness/action for request_action.
package rpc

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/maFHEa/engine/internal/action"
	"github.com/maFHEa/engine/internal/apperr"
	"github.com/maFHEa/engine/internal/config"
	"github.com/maFHEa/engine/internal/dkg"
	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/roleassign"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpcclient"
	"github.com/maFHEa/engine/internal/session/hub"
	"github.com/maFHEa/engine/internal/threshold"
	"github.com/maFHEa/engine/internal/vectorfactory"
)

// ActionProvider asks this party for its own target for one phase, the
// peer-side analogue of internal/session.ActionFunc. Returning -1 means
// abstain. Left nil, a Server always abstains — useful for a scripted or
// purely-reactive peer.
type ActionProvider func(phase string, role roles.Role, survivors []int) int

// Server holds one party's peer-side RPC state for one game.
type Server struct {
	mu sync.Mutex

	selfIndex int
	cfg       *config.Config
	hub       *hub.Hub
	action    ActionProvider

	dkgSession *dkg.Session
	thresholds *threshold.Service
	assigner   *roleassign.Assigner
	factory    *vectorfactory.Factory
	clients    map[int]*rpcclient.Client

	myRole  roles.Role
	myAlive bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer returns a Server for one party, ready to answer dkg_setup as
// its very first call.
func NewServer(selfIndex int, cfg *config.Config, h *hub.Hub, action ActionProvider) *Server {
	return &Server{
		selfIndex:  selfIndex,
		cfg:        cfg,
		hub:        h,
		action:     action,
		dkgSession: dkg.NewSession(),
		myRole:     roles.RoleUnknown,
		myAlive:    true,
		shutdownCh: make(chan struct{}),
	}
}

// Done returns a channel closed once this party has been asked to shut
// down, for cmd/peer's main goroutine to wait on.
func (s *Server) Done() <-chan struct{} { return s.shutdownCh }

// Thresholds exposes the lazily-constructed threshold.Service once DKG is
// ready, for a Coordinator process that embeds its own Server alongside a
// phaseengine.Engine (cmd/coordinator wires the Engine directly to the
// Coordinator's own DKG/role-assignment results, not through this
// Server — this accessor exists for symmetry and for tests).
func (s *Server) Thresholds() *threshold.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

// Assigner exposes the lazily-constructed roleassign.Assigner, same
// reasoning as Thresholds.
func (s *Server) Assigner() *roleassign.Assigner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigner
}

// MyRole returns this party's own role once known.
func (s *Server) MyRole() roles.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.myRole
}

// ensureServicesReady constructs thresholds/factory/assigner exactly once,
// as soon as the DKG session reports Ready. Safe to call from any handler
// that might be the one to observe the transition.
func (s *Server) ensureServicesReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thresholds != nil || !s.dkgSession.Ready() {
		return
	}
	ctx := s.dkgSession.Ctx
	sk := s.dkgSession.SecretKey()
	numPlayers := s.dkgSession.NumPlayers

	s.thresholds = threshold.New(ctx, sk, s.selfIndex, nil)
	s.factory = vectorfactory.New(ctx, numPlayers)
	s.assigner = roleassign.New(ctx, sk, s.selfIndex, numPlayers, nil, s.thresholds)
}

// wireClients builds one rpcclient per peer address and points both
// thresholds and assigner at the shared map — the DKG handshake that
// built those services ran before any peer address was known, so this is
// the first point in the protocol (blind_role_assignment) where they can
// be connected.
func (s *Server) wireClients(addresses []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients != nil {
		return
	}
	clients := make(map[int]*rpcclient.Client, len(addresses))
	for i, addr := range addresses {
		if i == s.selfIndex || addr == "" {
			continue
		}
		clients[i] = rpcclient.New(addr, i, s.cfg.APIAuthToken, s.cfg.ConnectionTimeout)
	}
	s.clients = clients
	if s.thresholds != nil {
		s.thresholds.SetClients(clients)
	}
	if s.assigner != nil {
		s.assigner.SetClients(clients)
	}
}

// SetupRouter builds the gin.Engine shared by cmd/coordinator and
// cmd/peer, registering every RPC verb plus the spectator stream and a
// health check.
func SetupRouter(s *Server) *gin.Engine {
	r := gin.Default()

	rpcGroup := r.Group("/")
	rpcGroup.Use(AuthMiddleware(s.cfg.APIAuthToken))
	rpcGroup.Use(NewRateLimiter(600, 100).Middleware())
	{
		rpcGroup.POST("/dkg_setup", s.handleDkgSetup)
		rpcGroup.POST("/dkg_round", s.handleDkgRound)
		rpcGroup.POST("/generate_keyswitchgen", s.handleGenerateKeySwitchGen)
		rpcGroup.POST("/generate_multmultkey", s.handleGenerateMultMultKey)

		rpcGroup.POST("/blind_role_assignment", s.handleBlindRoleAssignment)
		rpcGroup.POST("/complete_role_decryption", s.handleCompleteRoleDecryption)

		rpcGroup.POST("/partial_decrypt", s.handlePartialDecrypt)
		rpcGroup.POST("/investigate_parallel", s.handleInvestigateParallel)
		rpcGroup.POST("/relay_decrypt", s.handleRelayDecrypt)

		rpcGroup.POST("/request_action", s.handleRequestAction)
		rpcGroup.POST("/update", s.handleUpdate)
		rpcGroup.POST("/death_announcement", s.handleDeathAnnouncement)
		rpcGroup.GET("/reveal_role", s.handleRevealRole)
		rpcGroup.POST("/reveal_role", s.handleRevealRole)

		rpcGroup.POST("/shutdown", s.handleShutdown)
		rpcGroup.POST("/shutdown_agent", s.handleShutdown)
	}

	r.GET("/health", s.handleHealth)
	if s.hub != nil {
		r.GET("/stream", func(c *gin.Context) { s.hub.Subscribe(c.Writer, c.Request) })
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "player_index": s.selfIndex, "role": s.MyRole().String()})
}

// --- DKG ---

func (s *Server) handleDkgSetup(c *gin.Context) {
	var req rpcclient.DkgSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.dkgSession.HandleSetup(req.GameID, req.NumPlayers, req.PlayerIndex); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.selfIndex = req.PlayerIndex
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleDkgRound(c *gin.Context) {
	var req rpcclient.DkgRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	next, err := s.dkgSession.HandleRound1(req.RoundNumber, req.PreviousKeyShare)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rpcclient.DkgRoundResponse{NextKeyShare: next})
}

func (s *Server) handleGenerateKeySwitchGen(c *gin.Context) {
	var req rpcclient.GenerateKeySwitchGenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	share, err := s.dkgSession.HandleGenerateKeySwitchGen(req.PrevKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rpcclient.GenerateKeySwitchGenResponse{KeySwitchShare: share})
}

func (s *Server) handleGenerateMultMultKey(c *gin.Context) {
	var req rpcclient.GenerateMultMultKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	share, err := s.dkgSession.HandleGenerateMultMultKey(req.CombinedKey, req.KeyTag)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.ensureServicesReady()
	c.JSON(http.StatusOK, rpcclient.GenerateMultMultKeyResponse{MultMultShare: share})
}

// --- Role assignment ---

func (s *Server) handleBlindRoleAssignment(c *gin.Context) {
	var req rpcclient.BlindRoleAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.ensureServicesReady()
	s.wireClients(req.PlayerAddresses)

	assigner := s.Assigner()
	if assigner == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.NewProtocolError("blind_role_assignment: dkg not ready").Error()})
		return
	}
	if err := assigner.HandleBlindRoleAssignment(req.EncryptedRoles); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleCompleteRoleDecryption(c *gin.Context) {
	var req rpcclient.CompleteRoleDecryptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	assigner := s.Assigner()
	if assigner == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.NewProtocolError("complete_role_decryption: dkg not ready").Error()})
		return
	}
	role, err := assigner.HandleCompleteRoleDecryption(req.PartialCiphertexts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.myRole = role
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

// --- Threshold decryption ---

func (s *Server) handlePartialDecrypt(c *gin.Context) {
	var req rpcclient.PartialDecryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	thresholds := s.Thresholds()
	if thresholds == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.NewProtocolError("partial_decrypt: dkg not ready").Error()})
		return
	}
	ct, err := fhecrypto.DeserializeCiphertext(req.Ciphertext)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var part *fhecrypto.PartialDecryption
	if req.IsLead {
		part, err = thresholds.Ctx().PartialDecryptLead(ct, thresholds.LocalSk())
	} else {
		part, err = thresholds.Ctx().PartialDecryptMain(ct, thresholds.LocalSk())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	wire, err := part.Serialize()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rpcclient.PartialDecryptResponse{PartialCiphertext: wire})
}

func (s *Server) handleInvestigateParallel(c *gin.Context) {
	var req rpcclient.InvestigateParallelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	thresholds := s.Thresholds()
	if thresholds == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.NewProtocolError("investigate_parallel: dkg not ready").Error()})
		return
	}
	ct, err := fhecrypto.DeserializeCiphertext(req.Ciphertext)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	part, err := thresholds.Ctx().PartialDecryptMain(ct, thresholds.LocalSk())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	wire, err := part.Serialize()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rpcclient.InvestigateParallelResponse{PartialCiphertext: wire})
}

func (s *Server) handleRelayDecrypt(c *gin.Context) {
	var req rpcclient.RelayDecryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	thresholds := s.Thresholds()
	if thresholds == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.NewProtocolError("relay_decrypt: dkg not ready").Error()})
		return
	}
	updated, err := thresholds.HandleRelayHop(c.Request.Context(), req.Ciphertext, req.PartialResults, req.RemainingOrder, req.PlayerAddresses)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rpcclient.RelayDecryptResponse{PartialResults: updated})
}

// --- Phase / action ---

func (s *Server) handleRequestAction(c *gin.Context) {
	var req rpcclient.RequestActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	factory := s.factory
	role := s.myRole
	alive := s.myAlive
	provider := s.action
	s.mu.Unlock()
	if factory == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.NewProtocolError("request_action: dkg not ready").Error()})
		return
	}

	target := -1
	if provider != nil {
		target = provider(req.Phase, role, req.Survivors)
	}

	resp, err := action.HandleRequestAction(factory, target, role, alive, req.Phase)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req rpcclient.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	for _, idx := range req.DeadPlayers {
		if idx == s.selfIndex {
			s.myAlive = false
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleDeathAnnouncement(c *gin.Context) {
	var req rpcclient.DeathAnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	for _, d := range req.Deaths {
		if d.PlayerIndex == s.selfIndex {
			s.myAlive = false
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleRevealRole(c *gin.Context) {
	c.JSON(http.StatusOK, rpcclient.RevealRoleResponse{Role: s.MyRole().String()})
}

func (s *Server) handleShutdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}
