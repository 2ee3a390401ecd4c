package models

import "time"

/*
	Platform records stored as JSON documents in the key-value store.
	Keys are prefixed per record kind (see internal/service). Fields
	mirror what the public API exposes; anything the chain or the
	prover would own is simulated.
*/

type AgentStatus string

const (
	AgentStatusActive      AgentStatus = "active"
	AgentStatusIdle        AgentStatus = "idle"
	AgentStatusBusy        AgentStatus = "busy"
	AgentStatusOffline     AgentStatus = "offline"
	AgentStatusMaintenance AgentStatus = "maintenance"
)

type Agent struct {
	ID            string      `json:"id"`
	OwnerID       string      `json:"owner_id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Status        AgentStatus `json:"status"`
	Capabilities  []string    `json:"capabilities,omitempty"`
	Reputation    int         `json:"reputation"`
	TotalProofs   int         `json:"total_proofs"`
	IsPublic      bool        `json:"is_public"`
	CreatedAt     time.Time   `json:"created_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat,omitempty"`
}

type ProofType string

const (
	ProofTypeGroth16      ProofType = "groth16"
	ProofTypeBulletproofs ProofType = "bulletproofs"
	ProofTypeHybrid       ProofType = "hybrid"
	ProofTypeEZKL         ProofType = "ezkl"
)

type ProofStatus string

const (
	ProofStatusPending    ProofStatus = "pending"
	ProofStatusGenerating ProofStatus = "generating"
	ProofStatusVerified   ProofStatus = "verified"
	ProofStatusFailed     ProofStatus = "failed"
)

type Proof struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"owner_id"`
	AgentID      string      `json:"agent_id,omitempty"`
	ProofType    ProofType   `json:"proof_type"`
	Status       ProofStatus `json:"status"`
	ProofHash    string      `json:"proof_hash,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Rewarded     bool        `json:"rewarded,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	VerifiedAt   time.Time   `json:"verified_at,omitempty"`
}

type SettlementStatus string

const (
	SettlementStatusPending    SettlementStatus = "pending"
	SettlementStatusProcessing SettlementStatus = "processing"
	SettlementStatusCompleted  SettlementStatus = "completed"
	SettlementStatusFailed     SettlementStatus = "failed"
)

type Settlement struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"owner_id"`
	Title     string           `json:"title"`
	Amount    float64          `json:"amount"`
	Currency  string           `json:"currency"`
	Status    SettlementStatus `json:"status"`
	TxHash    string           `json:"tx_hash,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	SettledAt time.Time        `json:"settled_at,omitempty"`
}

type Swarm struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	AgentIDs  []string  `json:"agent_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RewardEntry is one ledger line; the balance endpoint folds them.
type RewardEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// User as the identity provider sees it. The API key is stored hashed;
// the record itself carries only the active flag and display data.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
