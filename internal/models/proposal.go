package models

// HedgeProposal is one planned protective trade for an underlying with
// non-zero net exposure. Proposals are transient: a fresh set is built on
// every calculate action and nothing outlives the run.
type HedgeProposal struct {
	ID              string       `json:"id"`
	Underlying      string       `json:"underlying"`
	NetLong         int          `json:"net_long"`
	NetShort        int          `json:"net_short"`
	NetExposure     int          `json:"net_exposure"` // NetLong - NetShort
	LastTradedPrice float64      `json:"last_traded_price"`
	OptionType      ContractKind `json:"option_type"` // PE when net long, CE when net short
	TargetPrice     float64      `json:"target_price"`
	Strike          int          `json:"strike"`
	ContractSymbol  string       `json:"contract_symbol"`
	Lots            int          `json:"lots"` // |NetExposure|
	Approved        bool         `json:"approved"`
}
