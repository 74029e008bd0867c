package protocol

// CREATE_MATCH (client -> server)
type CreateMatchReq struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	// MatchID is optional; the server generates one when empty.
	MatchID string   `json:"match_id,omitempty"`
	Seed    int64    `json:"seed"`
	Players []uint64 `json:"players"`
}

// MATCH_CREATED (server -> client)
type MatchCreatedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	MatchID         string `json:"match_id"`
	Turn            uint32 `json:"turn"`
	StateHash       string `json:"state_hash"`
	RulesVersion    string `json:"rules_version"`
	RulesDigest     string `json:"rules_digest"`
	// HashFormat names the canonical state encoding the hash is taken over.
	HashFormat string `json:"hash_format"`
}

// GET_OBSERVATION (client -> server)
type GetObservationReq struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	MatchID         string `json:"match_id"`
	PlayerID        uint64 `json:"player_id"`
}

// SUBMIT_ACTION (client -> server). Byte fields travel as base64.
type SubmitActionReq struct {
	Type                string `json:"type"`
	ProtocolVersion     string `json:"protocol_version"`
	ReqID               string `json:"req_id,omitempty"`
	MatchID             string `json:"match_id"`
	Turn                uint32 `json:"turn"`
	PlayerID            uint64 `json:"player_id"`
	ActionID            string `json:"action_id"`
	ActionBytes         []byte `json:"action_bytes"`
	PrevStateHashPrefix []byte `json:"prev_state_hash_prefix"`
}

// Ack is the stored result of one submission. It is returned unchanged for
// every later submission with the same action id.
type Ack struct {
	Accepted     bool   `json:"accepted"`
	Code         string `json:"code,omitempty"`
	Error        string `json:"error"`
	ActionID     string `json:"action_id"`
	NewStateHash string `json:"new_state_hash"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Ack
}

// ADVANCE (client -> server)
type AdvanceReq struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	MatchID         string `json:"match_id"`
}

// NEGOTIATE (client -> server)
type NegotiateReq struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	MatchID         string `json:"match_id"`
	From            uint64 `json:"from"`
	To              uint64 `json:"to"`
	DealJSON        string `json:"deal_json"`
}

type DealResponse struct {
	Accepted         bool   `json:"accepted"`
	Reason           string `json:"reason"`
	CounterOfferJSON string `json:"counter_offer_json,omitempty"`
}

// DEAL_RESPONSE (server -> client)
type DealResponseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	DealResponse
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
