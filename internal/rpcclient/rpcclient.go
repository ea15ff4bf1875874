// Package rpcclient is the typed HTTP client every peer uses to call every
// other peer's internal/rpc surface. Coordinator calls peers for DKG
// rounds, role reveal, action collection and threshold decryption; peers
// call each other directly only to forward relay-decryption hops — the verb
// set is symmetric, so one client type serves every caller.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/maFHEa/engine/internal/apperr"
)

// Client calls one peer's RPC surface over HTTP POST/JSON. PeerIndex
// identifies the peer this client addresses, for NetworkError attribution.
type Client struct {
	BaseURL    string
	PeerIndex  int
	AuthToken  string
	httpClient *http.Client
}

// New returns a Client bound to one peer's base URL with the given
// per-request timeout ceiling. Each RPC call may further shorten the
// deadline via its own context.
func New(baseURL string, peerIndex int, authToken string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:   baseURL,
		PeerIndex: peerIndex,
		AuthToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody interface{}) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(reqBody); err != nil {
		return apperr.NewNetworkError(c.PeerIndex, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, buf)
	if err != nil {
		return apperr.NewNetworkError(c.PeerIndex, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.NewNetworkError(c.PeerIndex, fmt.Errorf("%s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.NewNetworkError(c.PeerIndex, fmt.Errorf("%s: peer returned status %d", path, resp.StatusCode))
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return apperr.NewNetworkError(c.PeerIndex, fmt.Errorf("decode response from %s: %w", path, err))
	}
	return nil
}

// --- DKG ---

type DkgSetupRequest struct {
	GameID        string `json:"game_id"`
	CryptoContext string `json:"crypto_context"`
	NumPlayers    int    `json:"num_players"`
	PlayerIndex   int    `json:"player_index"`
}

func (c *Client) DkgSetup(ctx context.Context, req DkgSetupRequest) error {
	return c.post(ctx, "/dkg_setup", req, nil)
}

type DkgRoundRequest struct {
	RoundNumber      int    `json:"round_number"`
	PreviousKeyShare string `json:"previous_public_key"`
}

type DkgRoundResponse struct {
	NextKeyShare string `json:"next_public_key"`
}

func (c *Client) DkgRound(ctx context.Context, req DkgRoundRequest) (*DkgRoundResponse, error) {
	var resp DkgRoundResponse
	if err := c.post(ctx, "/dkg_round", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type GenerateKeySwitchGenRequest struct {
	GameID  string `json:"game_id"`
	PrevKey string `json:"prev_key"`
}

type GenerateKeySwitchGenResponse struct {
	KeySwitchShare string `json:"keyswitch_share"`
}

func (c *Client) GenerateKeySwitchGen(ctx context.Context, req GenerateKeySwitchGenRequest) (*GenerateKeySwitchGenResponse, error) {
	var resp GenerateKeySwitchGenResponse
	if err := c.post(ctx, "/generate_keyswitchgen", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type GenerateMultMultKeyRequest struct {
	GameID      string `json:"game_id"`
	CombinedKey string `json:"combined_key"`
	KeyTag      string `json:"key_tag"`
}

type GenerateMultMultKeyResponse struct {
	MultMultShare string `json:"multmult_share"`
}

func (c *Client) GenerateMultMultKey(ctx context.Context, req GenerateMultMultKeyRequest) (*GenerateMultMultKeyResponse, error) {
	var resp GenerateMultMultKeyResponse
	if err := c.post(ctx, "/generate_multmultkey", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Role assignment ---

type BlindRoleAssignmentRequest struct {
	MyIndex         int      `json:"my_index"`
	EncryptedRoles  []string `json:"encrypted_roles"`
	JointPublicKey  string   `json:"joint_public_key"`
	PlayerAddresses []string `json:"player_addresses"`
}

func (c *Client) BlindRoleAssignment(ctx context.Context, req BlindRoleAssignmentRequest) error {
	return c.post(ctx, "/blind_role_assignment", req, nil)
}

type CompleteRoleDecryptionRequest struct {
	PartialCiphertexts []string `json:"partial_ciphertexts"`
}

func (c *Client) CompleteRoleDecryption(ctx context.Context, req CompleteRoleDecryptionRequest) error {
	return c.post(ctx, "/complete_role_decryption", req, nil)
}

// --- Threshold decryption ---

type PartialDecryptRequest struct {
	Ciphertext string `json:"ciphertext"`
	IsLead     bool   `json:"is_lead"`
}

type PartialDecryptResponse struct {
	PartialCiphertext string `json:"partial_ciphertext"`
}

func (c *Client) PartialDecrypt(ctx context.Context, req PartialDecryptRequest) (*PartialDecryptResponse, error) {
	var resp PartialDecryptResponse
	if err := c.post(ctx, "/partial_decrypt", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type InvestigateParallelRequest struct {
	Ciphertext string `json:"ciphertext"`
}

type InvestigateParallelResponse struct {
	PartialCiphertext string `json:"partial_ciphertext"`
}

func (c *Client) InvestigateParallel(ctx context.Context, req InvestigateParallelRequest) (*InvestigateParallelResponse, error) {
	var resp InvestigateParallelResponse
	if err := c.post(ctx, "/investigate_parallel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type RelayDecryptRequest struct {
	Ciphertext      string   `json:"ciphertext"`
	PartialResults  []string `json:"partial_results"`
	RemainingOrder  []int    `json:"remaining_order"`
	PlayerAddresses []string `json:"player_addresses"`
}

type RelayDecryptResponse struct {
	PartialResults []string `json:"partial_results,omitempty"`
}

func (c *Client) RelayDecrypt(ctx context.Context, req RelayDecryptRequest) (*RelayDecryptResponse, error) {
	var resp RelayDecryptResponse
	if err := c.post(ctx, "/relay_decrypt", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Phase / action ---

type RequestActionRequest struct {
	Phase         string   `json:"phase"`
	Message       string   `json:"message"`
	Survivors     []int    `json:"survivors"`
	DeadPlayers   []int    `json:"dead_players"`
	RemainingTime *int     `json:"remaining_time,omitempty"`
}

type RequestActionResponse struct {
	VoteVector   string   `json:"vote_vector"`
	AttackVector string   `json:"attack_vector"`
	HealVector   string   `json:"heal_vector"`
	ChatMessages []string `json:"chat_messages,omitempty"`
}

func (c *Client) RequestAction(ctx context.Context, req RequestActionRequest) (*RequestActionResponse, error) {
	var resp RequestActionResponse
	if err := c.post(ctx, "/request_action", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type UpdateRequest struct {
	Phase              string `json:"phase"`
	Message            string `json:"message"`
	Survivors          []int  `json:"survivors"`
	DeadPlayers        []int  `json:"dead_players"`
	RecentlyKilled     []int  `json:"recently_killed,omitempty"`
	RecentlyVotedOut   *int   `json:"recently_voted_out,omitempty"`
}

func (c *Client) Update(ctx context.Context, req UpdateRequest) error {
	return c.post(ctx, "/update", req, nil)
}

type DeathAnnouncementRequest struct {
	Deaths []DeathEntry `json:"deaths"`
}

type DeathEntry struct {
	PlayerIndex int    `json:"player_index"`
	Role        string `json:"role"`
}

func (c *Client) DeathAnnouncement(ctx context.Context, req DeathAnnouncementRequest) error {
	return c.post(ctx, "/death_announcement", req, nil)
}

type RevealRoleResponse struct {
	Role string `json:"role"`
}

func (c *Client) RevealRole(ctx context.Context) (*RevealRoleResponse, error) {
	var resp RevealRoleResponse
	if err := c.post(ctx, "/reveal_role", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/shutdown", struct{}{}, nil)
}

type ShutdownAgentRequest struct {
	Port int `json:"port"`
}

func (c *Client) ShutdownAgent(ctx context.Context, req ShutdownAgentRequest) error {
	return c.post(ctx, "/shutdown_agent", req, nil)
}
