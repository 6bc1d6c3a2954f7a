package klend

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrBadDiscriminator is returned by DecodeReserve/DecodeObligation when the
// first 8 bytes of the account data do not match the expected account
// discriminator.
var ErrBadDiscriminator = fmt.Errorf("bad_discriminator")

// DecodeReserve parses raw Reserve account bytes, checking the leading
// 8-byte discriminator first (spec §4.B). expectedPubkey is accepted for
// callers that want to attach it to error messages; it is not itself part
// of the wire format.
func DecodeReserve(data []byte, expectedPubkey solana.PublicKey) (*Reserve, error) {
	if err := checkDiscriminator(data, ReserveDiscriminator, expectedPubkey); err != nil {
		return nil, err
	}
	decoder := bin.NewBorshDecoder(data)
	reserve := &Reserve{}
	if err := decoder.Decode(reserve); err != nil {
		return nil, fmt.Errorf("decode reserve %s: %w", expectedPubkey, err)
	}
	return reserve, nil
}

// DecodeObligation parses raw Obligation account bytes, checking the
// leading 8-byte discriminator first (spec §4.B).
func DecodeObligation(data []byte, expectedPubkey solana.PublicKey) (*Obligation, error) {
	if err := checkDiscriminator(data, ObligationDiscriminator, expectedPubkey); err != nil {
		return nil, err
	}
	decoder := bin.NewBorshDecoder(data)
	obligation := &Obligation{}
	if err := decoder.Decode(obligation); err != nil {
		return nil, fmt.Errorf("decode obligation %s: %w", expectedPubkey, err)
	}
	return obligation, nil
}

func checkDiscriminator(data []byte, want [8]byte, pubkey solana.PublicKey) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: account %s too short (%d bytes)", ErrBadDiscriminator, pubkey, len(data))
	}
	if !bytes.Equal(data[:8], want[:]) {
		return fmt.Errorf("%w: account %s", ErrBadDiscriminator, pubkey)
	}
	return nil
}
