package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeCreateMatch    = "CREATE_MATCH"
	TypeMatchCreated   = "MATCH_CREATED"
	TypeGetObservation = "GET_OBSERVATION"
	TypeObservation    = "OBSERVATION"
	TypeSubmitAction   = "SUBMIT_ACTION"
	TypeAck            = "ACK"
	TypeAdvance        = "ADVANCE"
	TypeEventBatch     = "EVENT_BATCH"
	TypeNegotiate      = "NEGOTIATE"
	TypeDealResponse   = "DEAL_RESPONSE"
	TypeError          = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	// ReqID is echoed on the response so clients can pipeline requests.
	ReqID string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
