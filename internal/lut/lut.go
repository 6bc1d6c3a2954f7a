// Package lut manages the executor's address lookup table: candidate
// address collection, creation, and batched extension (component Q).
package lut

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// InstructionKeys is the minimal shape CollectLutCandidateAddresses needs
// from a transaction instruction: its program id and ordered account
// metas.
type InstructionKeys struct {
	ProgramID solana.PublicKey
	Keys      []solana.AccountMeta
}

// CollectLutCandidateAddresses returns the ordered, deduplicated union of
// every instruction's program id and non-signer account keys, excluding
// payer. First-occurrence order is preserved (spec §4.Q).
func CollectLutCandidateAddresses(ixs []InstructionKeys, payer solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool)
	var out []solana.PublicKey

	add := func(pk solana.PublicKey) {
		if pk.Equals(payer) || seen[pk] {
			return
		}
		seen[pk] = true
		out = append(out, pk)
	}

	for _, ix := range ixs {
		if !seen[ix.ProgramID] {
			seen[ix.ProgramID] = true
			out = append(out, ix.ProgramID)
		}
		for _, k := range ix.Keys {
			if k.IsSigner {
				continue
			}
			add(k.PublicKey)
		}
	}
	return out
}

const extendBatchSize = 20

// Native Address Lookup Table program instruction tags (borsh enum index,
// u32 little-endian): CreateLookupTable=0, ExtendLookupTable=2. The
// program is not Anchor-based, so these are fixed wire constants rather
// than computed discriminators.
const (
	createLookupTableTag uint32 = 0
	extendLookupTableTag uint32 = 2
)

// lookupTableMetaSize is the fixed header size (type tag, deactivation
// slot, last-extended slot/index, optional authority, padding) preceding
// a lookup table account's stored address list.
const lookupTableMetaSize = 56

type genericInstruction struct {
	programID solana.PublicKey
	accounts  []*solana.AccountMeta
	data      []byte
}

func (g *genericInstruction) ProgramID() solana.PublicKey     { return g.programID }
func (g *genericInstruction) Accounts() []*solana.AccountMeta { return g.accounts }
func (g *genericInstruction) Data() ([]byte, error)           { return g.data, nil }

// DeriveExecutorLutAddress returns the executor's lookup table PDA and
// bump seed for recentSlot.
func DeriveExecutorLutAddress(authority solana.PublicKey, recentSlot uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{authority.Bytes(), uint64LE(recentSlot)}, solana.AddressLookupTableProgramID)
}

// NewCreateLookupTableInstruction builds the native CreateLookupTable
// instruction for the PDA derived from authority/recentSlot/bump.
func NewCreateLookupTableInstruction(tableAddr, authority, payer solana.PublicKey, recentSlot uint64, bump uint8) solana.Instruction {
	data := make([]byte, 0, 13)
	data = append(data, uint32LE(createLookupTableTag)...)
	data = append(data, uint64LE(recentSlot)...)
	data = append(data, bump)
	return &genericInstruction{
		programID: solana.AddressLookupTableProgramID,
		data:      data,
		accounts: []*solana.AccountMeta{
			solana.NewAccountMeta(tableAddr, true, false),
			solana.NewAccountMeta(authority, false, true),
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
	}
}

// NewExtendLookupTableInstruction builds the native ExtendLookupTable
// instruction appending addresses to tableAddr.
func NewExtendLookupTableInstruction(tableAddr, authority, payer solana.PublicKey, addresses []solana.PublicKey) solana.Instruction {
	data := make([]byte, 0, 8+32*len(addresses))
	data = append(data, uint32LE(extendLookupTableTag)...)
	data = append(data, uint32LE(uint32(len(addresses)))...)
	for _, a := range addresses {
		data = append(data, a.Bytes()...)
	}
	return &genericInstruction{
		programID: solana.AddressLookupTableProgramID,
		data:      data,
		accounts: []*solana.AccountMeta{
			solana.NewAccountMeta(tableAddr, true, false),
			solana.NewAccountMeta(authority, false, true),
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
	}
}

// DecodeLookupTableAddresses parses the stored address list out of a
// lookup table account's raw data.
func DecodeLookupTableAddresses(data []byte) []solana.PublicKey {
	if len(data) <= lookupTableMetaSize {
		return nil
	}
	body := data[lookupTableMetaSize:]
	n := len(body) / 32
	out := make([]solana.PublicKey, 0, n)
	for i := 0; i < n; i++ {
		var pk solana.PublicKey
		copy(pk[:], body[i*32:(i+1)*32])
		out = append(out, pk)
	}
	return out
}

// AccountInfoGetter narrows *rpc.Client to fetching a lookup table
// account's raw data, so Maintainer.Sync can diff against what is already
// stored on-chain before extending.
type AccountInfoGetter interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

// Confirmer waits for a signature to reach a terminal state.
type Confirmer interface {
	Confirm(ctx context.Context, sig solana.Signature) error
}

// Sender builds, signs, and sends a transaction made of ixs, returning its
// signature. Blockhash management and signing stay with the caller's
// shared rpcx helpers; Maintainer only ever needs the resulting signature.
type Sender func(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error)

// Maintainer keeps the executor's address lookup table extended with
// every address the hot liquidation path touches (component Q).
type Maintainer struct {
	Accounts  AccountInfoGetter
	Confirm   Confirmer
	Send      Sender
	Authority solana.PublicKey
	Payer     solana.PublicKey

	// TableAddr is the maintained table's address. Pre-set it (from
	// EXECUTOR_LUT_ADDRESS) to reuse an existing table; leave zero to have
	// EnsureTable create one on first use.
	TableAddr solana.PublicKey
}

// EnsureTable returns the maintained table's address, creating one on
// first use (keyed to recentSlot) if none is configured yet.
func (m *Maintainer) EnsureTable(ctx context.Context, recentSlot uint64) (solana.PublicKey, error) {
	if !m.TableAddr.IsZero() {
		return m.TableAddr, nil
	}
	tableAddr, bump, err := DeriveExecutorLutAddress(m.Authority, recentSlot)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("lut: derive table address: %w", err)
	}
	sig, err := m.Send(ctx, []solana.Instruction{NewCreateLookupTableInstruction(tableAddr, m.Authority, m.Payer, recentSlot, bump)})
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("lut: create table: %w", err)
	}
	if err := m.Confirm.Confirm(ctx, sig); err != nil {
		return solana.PublicKey{}, fmt.Errorf("lut: confirm table creation: %w", err)
	}
	m.TableAddr = tableAddr
	return tableAddr, nil
}

// Sync extends the maintained table with any of ixs' candidate addresses
// not already stored on-chain (spec §4.Q). Safe to call before every
// build; a no-op once the table already covers the working set.
func (m *Maintainer) Sync(ctx context.Context, ixs []InstructionKeys) error {
	if m.TableAddr.IsZero() {
		return fmt.Errorf("lut: table not initialized; call EnsureTable first")
	}
	candidates := CollectLutCandidateAddresses(ixs, m.Payer)
	if len(candidates) == 0 {
		return nil
	}

	existing := make(map[solana.PublicKey]bool)
	info, err := m.Accounts.GetAccountInfoWithOpts(ctx, m.TableAddr, &rpc.GetAccountInfoOpts{Commitment: rpc.CommitmentConfirmed})
	if err != nil && err != rpc.ErrNotFound {
		return fmt.Errorf("lut: fetch table account: %w", err)
	}
	if info != nil && info.Value != nil {
		for _, addr := range DecodeLookupTableAddresses(info.Value.Data.GetBinary()) {
			existing[addr] = true
		}
	}

	var missing []solana.PublicKey
	for _, c := range candidates {
		if !existing[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	return ExtendExecutorLut(ctx, m.Confirm, func(ctx context.Context, batch []solana.PublicKey) (solana.Signature, error) {
		return m.Send(ctx, []solana.Instruction{NewExtendLookupTableInstruction(m.TableAddr, m.Authority, m.Payer, batch)})
	}, missing)
}

// ExtendExecutorLut appends missing addresses to an existing lookup table
// in batches of 20, confirming each batch before sending the next
// (spec §4.Q).
func ExtendExecutorLut(ctx context.Context, confirmer Confirmer, sendBatch func(ctx context.Context, batch []solana.PublicKey) (solana.Signature, error), missing []solana.PublicKey) error {
	for start := 0; start < len(missing); start += extendBatchSize {
		end := start + extendBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		sig, err := sendBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("lut: extend batch [%d:%d): %w", start, end, err)
		}
		if err := confirmer.Confirm(ctx, sig); err != nil {
			return fmt.Errorf("lut: confirm extend batch [%d:%d): %w", start, end, err)
		}
	}
	return nil
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func uint32LE(v uint32) []byte {
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
