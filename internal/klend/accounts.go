package klend

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// BigFraction is the wire shape of a 256-bit big-fraction: four
// little-endian 64-bit limbs (spec §6).
type BigFraction struct {
	Value [4]uint64
}

func (f *BigFraction) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	for i := range f.Value {
		v, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		f.Value[i] = v
	}
	return nil
}

// TokenInfo carries the oracle accounts configured for a reserve's
// liquidity token: Pyth, Switchboard primary + TWAP, and a Scope chain
// index. All-zero pubkeys denote an absent oracle.
type TokenInfo struct {
	PythConfiguration          solana.PublicKey
	SwitchboardConfiguration   solana.PublicKey
	SwitchboardTwapAccount     solana.PublicKey
	ScopeConfiguration         solana.PublicKey
	ScopePriceChain            uint16
	ScopePriceChainIsSet       bool
}

func (t *TokenInfo) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if err := decoder.Decode(&t.PythConfiguration); err != nil {
		return err
	}
	if err := decoder.Decode(&t.SwitchboardConfiguration); err != nil {
		return err
	}
	if err := decoder.Decode(&t.SwitchboardTwapAccount); err != nil {
		return err
	}
	if err := decoder.Decode(&t.ScopeConfiguration); err != nil {
		return err
	}
	chain, err := decoder.ReadUint16(bin.LE)
	if err != nil {
		return err
	}
	t.ScopePriceChain = chain
	t.ScopePriceChainIsSet = chain != 0
	return nil
}

// ReserveConfig carries the risk parameters of a Reserve (spec §3).
type ReserveConfig struct {
	LoanToValuePct          uint8
	LiquidationThresholdPct uint8
	LiquidationBonusBps     uint16
	BorrowFactorPct         uint16
	TokenInfo               TokenInfo
}

func (c *ReserveConfig) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	v, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	c.LoanToValuePct = v
	if v, err = decoder.ReadUint8(); err != nil {
		return err
	}
	c.LiquidationThresholdPct = v
	bonus, err := decoder.ReadUint16(bin.LE)
	if err != nil {
		return err
	}
	c.LiquidationBonusBps = bonus
	borrowFactor, err := decoder.ReadUint16(bin.LE)
	if err != nil {
		return err
	}
	c.BorrowFactorPct = borrowFactor
	return decoder.Decode(&c.TokenInfo)
}

// Reserve is the decoded, discriminator-checked shape of a KLend Reserve
// account (spec §3). FarmCollateral/FarmDebt are the reserve's farm state
// handles (all-zero means that side has no farm configured, same
// absent-is-zero convention as OraclePubkeys). LiquidityTokenProgram names
// the SPL token program the liquidity mint belongs to: classic Token or
// Token-2022 (spec §4.K); when it is zero, TokenProgramOrDefault returns the
// caller-supplied fallback.
type Reserve struct {
	Discriminator           [8]byte
	LendingMarket           solana.PublicKey
	LiquidityMint           solana.PublicKey
	LiquidityTokenProgram   solana.PublicKey
	CollateralMint          solana.PublicKey
	LiquidityDecimals       int16
	CollateralDecimals      int16
	Config                  ReserveConfig
	TotalBorrowedSf         BigFraction
	AvailableLiquidity      uint64
	CumulativeBorrowRateBsf BigFraction
	FarmCollateral          solana.PublicKey
	FarmDebt                solana.PublicKey
}

func (r *Reserve) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if _, err := decoder.ReadNBytes(len(r.Discriminator)); err != nil {
		return err
	}
	if err := decoder.Decode(&r.LendingMarket); err != nil {
		return err
	}
	if err := decoder.Decode(&r.LiquidityMint); err != nil {
		return err
	}
	if err := decoder.Decode(&r.LiquidityTokenProgram); err != nil {
		return err
	}
	if err := decoder.Decode(&r.CollateralMint); err != nil {
		return err
	}
	liquidityDecimals, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	r.LiquidityDecimals = decimalsOrSentinel(liquidityDecimals)
	collateralDecimals, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	r.CollateralDecimals = decimalsOrSentinel(collateralDecimals)
	if err := decoder.Decode(&r.Config); err != nil {
		return err
	}
	if err := decoder.Decode(&r.TotalBorrowedSf); err != nil {
		return err
	}
	liquidity, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	r.AvailableLiquidity = liquidity
	if err := decoder.Decode(&r.CumulativeBorrowRateBsf); err != nil {
		return err
	}
	if err := decoder.Decode(&r.FarmCollateral); err != nil {
		return err
	}
	return decoder.Decode(&r.FarmDebt)
}

// TokenProgramOrDefault returns LiquidityTokenProgram if set, else
// fallback. KLend reserves predating the Token-2022 extension leave this
// field zeroed.
func (r *Reserve) TokenProgramOrDefault(fallback solana.PublicKey) solana.PublicKey {
	if r.LiquidityTokenProgram.IsZero() {
		return fallback
	}
	return r.LiquidityTokenProgram
}

// FarmEnabled reports whether this reserve has at least one farm state
// handle configured (spec's farm-refresh gating, component L).
func (r *Reserve) FarmEnabled() bool {
	return !r.FarmCollateral.IsZero() || !r.FarmDebt.IsZero()
}

// decimalsOrSentinel maps an absent/out-of-range decimals byte to the
// sentinel -1 required by spec §3 ("absent → sentinel −1").
func decimalsOrSentinel(raw uint8) int16 {
	if raw > 18 {
		return -1
	}
	return int16(raw)
}

// ObligationCollateral is one deposit slot: reserve + collateral shares.
type ObligationCollateral struct {
	DepositReserve  solana.PublicKey
	DepositedAmount uint64
}

func (c *ObligationCollateral) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if err := decoder.Decode(&c.DepositReserve); err != nil {
		return err
	}
	v, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	c.DepositedAmount = v
	return nil
}

// ObligationLiquidity is one borrow slot: reserve + 1e18-scaled borrowed
// amount.
type ObligationLiquidity struct {
	BorrowReserve  solana.PublicKey
	BorrowedAmountSf BigFraction
}

func (l *ObligationLiquidity) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if err := decoder.Decode(&l.BorrowReserve); err != nil {
		return err
	}
	return decoder.Decode(&l.BorrowedAmountSf)
}

const (
	// MaxObligationReserves is the fixed in-wire slot count for both the
	// deposits and borrows arrays.
	MaxObligationReserves = 8
)

// Obligation is the decoded, discriminator-checked shape of a KLend
// Obligation account (spec §3). Deposits/Borrows are returned pre-filtered
// to active (non-zero) entries; DepositSlotCount/BorrowSlotCount preserve
// the original in-wire slot counts, required by the liquidation builder to
// recompute refresh-instruction account ordering (spec §4.B).
type Obligation struct {
	Discriminator    [8]byte
	Owner            solana.PublicKey
	LendingMarket    solana.PublicKey
	LastUpdateSlot   uint64
	Deposits         []ObligationCollateral
	DepositSlotCount int
	Borrows          []ObligationLiquidity
	BorrowSlotCount  int
}

func (o *Obligation) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if _, err := decoder.ReadNBytes(len(o.Discriminator)); err != nil {
		return err
	}
	if err := decoder.Decode(&o.Owner); err != nil {
		return err
	}
	if err := decoder.Decode(&o.LendingMarket); err != nil {
		return err
	}
	slot, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	o.LastUpdateSlot = slot

	rawDeposits := make([]ObligationCollateral, MaxObligationReserves)
	for i := range rawDeposits {
		if err := decoder.Decode(&rawDeposits[i]); err != nil {
			return err
		}
	}
	o.DepositSlotCount = len(rawDeposits)
	o.Deposits = filterActiveDeposits(rawDeposits)

	rawBorrows := make([]ObligationLiquidity, MaxObligationReserves)
	for i := range rawBorrows {
		if err := decoder.Decode(&rawBorrows[i]); err != nil {
			return err
		}
	}
	o.BorrowSlotCount = len(rawBorrows)
	o.Borrows = filterActiveBorrows(rawBorrows)

	return nil
}

func filterActiveDeposits(in []ObligationCollateral) []ObligationCollateral {
	out := make([]ObligationCollateral, 0, len(in))
	for _, d := range in {
		if d.DepositedAmount == 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

func filterActiveBorrows(in []ObligationLiquidity) []ObligationLiquidity {
	out := make([]ObligationLiquidity, 0, len(in))
	for _, b := range in {
		if isZeroBigFraction(b.BorrowedAmountSf) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func isZeroBigFraction(f BigFraction) bool {
	return f.Value[0] == 0 && f.Value[1] == 0 && f.Value[2] == 0 && f.Value[3] == 0
}

// OraclePubkeys returns the ordered set of non-null oracle accounts
// configured on this reserve, excluding all-zero placeholders (spec §4.B).
func (r *Reserve) OraclePubkeys() []solana.PublicKey {
	var out []solana.PublicKey
	info := r.Config.TokenInfo
	for _, pk := range []solana.PublicKey{
		info.PythConfiguration,
		info.SwitchboardConfiguration,
		info.SwitchboardTwapAccount,
		info.ScopeConfiguration,
	} {
		if !pk.IsZero() {
			out = append(out, pk)
		}
	}
	return out
}
