// Package keys defines the value-store key scheme shared by the HTTP
// service and the background workers. Records owned by a user carry the
// owner id in the key so listing "mine" is a prefix iteration.
package keys

const (
	AgentPrefix      = "agent:"
	ProofPrefix      = "proof:"
	SettlementPrefix = "settlement:"
	SwarmPrefix      = "swarm:"
	RewardPrefix     = "reward:"
)

func WithUser(userID string) string {
	return "user:" + userID
}

func WithTokenHash(hash string) string {
	return "token:" + hash
}

func WithAgent(ownerID, agentID string) string {
	return AgentPrefix + ownerID + ":" + agentID
}

func WithAgentPrefix(ownerID string) string {
	return AgentPrefix + ownerID + ":"
}

func WithProof(ownerID, proofID string) string {
	return ProofPrefix + ownerID + ":" + proofID
}

func WithProofPrefix(ownerID string) string {
	return ProofPrefix + ownerID + ":"
}

func WithSettlement(ownerID, settlementID string) string {
	return SettlementPrefix + ownerID + ":" + settlementID
}

func WithSettlementPrefix(ownerID string) string {
	return SettlementPrefix + ownerID + ":"
}

func WithSwarm(swarmID string) string {
	return SwarmPrefix + swarmID
}

func WithReward(userID, entryID string) string {
	return RewardPrefix + userID + ":" + entryID
}

func WithRewardPrefix(userID string) string {
	return RewardPrefix + userID + ":"
}
