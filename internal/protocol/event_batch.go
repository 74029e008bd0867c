package protocol

type Event struct {
	Type   string `json:"type"`
	Player uint64 `json:"player"`
	Text   string `json:"text"`
}

// EventBatch is the outcome of one turn advance.
type EventBatch struct {
	MatchID   string  `json:"match_id"`
	Turn      uint32  `json:"turn"`
	Events    []Event `json:"events"`
	StateHash string  `json:"state_hash"`
	Status    string  `json:"status"`
}

// EVENT_BATCH (server -> client)
type EventBatchMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	EventBatch
}
