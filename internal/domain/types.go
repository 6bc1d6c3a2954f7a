// Package domain holds the data-model types shared across the pipeline
// stages (spec §3): ScoredObligation, Candidate, and FlashloanPlan.
package domain

// ScoredObligation is the output of the live indexer's health scoring pass.
type ScoredObligation struct {
	ObligationPubkey       string
	OwnerPubkey            string
	HealthRatio            float64
	HealthRatioRaw         float64
	LiquidationEligible    bool
	BorrowValueUsd         float64
	CollateralValueUsd     float64
	RepayReservePubkey     string
	CollateralReservePubkey string
	PrimaryBorrowMint      string
	PrimaryCollateralMint  string
	DepositsCount          int
	BorrowsCount           int
}

// Candidate is a ScoredObligation enriched with selector-derived ranking
// fields (spec §3).
type Candidate struct {
	ScoredObligation
	PriorityScore            float64
	DistanceToLiquidation    float64
	PredictedLiquidatableSoon bool
	Hazard                   *float64
	EV                       *float64
}

// FlashloanPlan is the persisted scheduler record (spec §3, planVersion=2).
type FlashloanPlan struct {
	PlanVersion int `json:"planVersion"`

	Key        string `json:"key"` // == ObligationPubkey
	OwnerPubkey string `json:"ownerPubkey"`

	Mint     string  `json:"mint"`
	AmountUsd float64 `json:"amountUsd"`
	AmountUi  float64 `json:"amountUi"`

	RepayMint               string `json:"repayMint"`
	CollateralMint          string `json:"collateralMint"`
	RepayReservePubkey      string `json:"repayReservePubkey"`
	CollateralReservePubkey string `json:"collateralReservePubkey"`

	EV                       float64  `json:"ev"`
	Hazard                   float64  `json:"hazard"`
	TTLMin                   *float64 `json:"ttlMin"`
	TTLStr                   string   `json:"ttlStr"`
	PredictedLiquidationAtMs *int64   `json:"predictedLiquidationAtMs"`
	CreatedAtMs              int64    `json:"createdAtMs"`
	PrevEV                   *float64 `json:"prevEv,omitempty"`

	LiquidationEligible bool `json:"liquidationEligible"`
}

// HasRequiredFields validates the enqueueing invariant from spec §3:
// every required reserve-pubkey/mint field must be a non-empty string.
func (p FlashloanPlan) HasRequiredFields() bool {
	return p.RepayReservePubkey != "" &&
		p.CollateralReservePubkey != "" &&
		p.CollateralMint != "" &&
		p.RepayMint != ""
}
