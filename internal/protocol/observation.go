package protocol

// Observation is one player's view of a match.
type Observation struct {
	MatchID  string `json:"match_id"`
	Turn     uint32 `json:"turn"`
	PlayerID uint64 `json:"player_id"`
	Status   string `json:"status"`

	View      ViewObs      `json:"view"`
	Resources ResourcesObs `json:"resources"`
	Yields    YieldsObs    `json:"yields"`
	Tech      TechObs      `json:"tech"`
	Diplomacy DiplomacyObs `json:"diplomacy"`

	// LegalActions carry the exact bytes to submit as action_bytes.
	LegalActions []ActionLite `json:"legal_actions"`
	StateHash    string       `json:"state_hash"`
}

// OBSERVATION (server -> client)
type ObservationMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Observation
}

type ViewObs struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Tiles  []TileObs `json:"tiles"`
	Cities []CityObs `json:"cities"`
	Units  []UnitObs `json:"units"`
}

type TileObs struct {
	X       int32  `json:"x"`
	Y       int32  `json:"y"`
	Terrain string `json:"terrain"`
}

type CityObs struct {
	ID         uint64   `json:"id"`
	Owner      uint64   `json:"owner"`
	X          int32    `json:"x"`
	Y          int32    `json:"y"`
	Population int      `json:"population"`
	Districts  []string `json:"districts"`
}

type UnitObs struct {
	ID        uint64 `json:"id"`
	Owner     uint64 `json:"owner"`
	Kind      string `json:"kind"`
	X         int32  `json:"x"`
	Y         int32  `json:"y"`
	HP        int    `json:"hp"`
	MovesLeft int    `json:"moves_left"`
	Fortified bool   `json:"fortified,omitempty"`
}

type ResourcesObs struct {
	Gold       int64 `json:"gold"`
	Production int64 `json:"production"`
	Science    int64 `json:"science"`
	Culture    int64 `json:"culture"`
}

type YieldsObs struct {
	Food       int   `json:"food"`
	Production int   `json:"production"`
	Gold       int   `json:"gold"`
	Science    int   `json:"science"`
	Culture    int   `json:"culture"`
	Upkeep     int64 `json:"upkeep"`
}

type TechObs struct {
	Known       []string `json:"known"`
	Available   []string `json:"available"`
	Researching string   `json:"researching,omitempty"`
	Progress    int64    `json:"progress"`
	Policies    []string `json:"policies"`
}

type DiplomacyObs struct {
	Relations  []RelationObs `json:"relations"`
	OpenOffers []OfferObs    `json:"open_offers"`
}

type RelationObs struct {
	PlayerID uint64 `json:"player_id"`
	Alive    bool   `json:"alive"`
	// BordersOpenTo: we let them in. BordersOpenFrom: they let us in.
	BordersOpenTo   bool `json:"borders_open_to"`
	BordersOpenFrom bool `json:"borders_open_from"`
}

type OfferObs struct {
	DealID      uint64 `json:"deal_id"`
	From        uint64 `json:"from"`
	To          uint64 `json:"to"`
	DealJSON    string `json:"deal_json"`
	OfferedTurn uint32 `json:"offered_turn"`
}

type ActionLite struct {
	ActionType string `json:"action_type"`
	Payload    []byte `json:"payload"`
}
