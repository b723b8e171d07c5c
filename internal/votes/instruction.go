// Package votes isolates vote transactions inside a block and decodes
// the vote program's compact binary instruction payload to recover the
// slot a validator actually voted for.
package votes

import (
	"encoding/binary"
	"fmt"
)

// VoteProgramID is the well-known on-chain vote program address.
const VoteProgramID = "Vote111111111111111111111111111111111111111"

// Wire enum tags of the vote instruction variants the decoder
// understands. Anything else decodes to Other.
const (
	tagVote      uint32 = 2
	tagTowerSync uint32 = 14
)

// Payload is the decoded vote instruction: a closed set of variants.
// Unrecognized wire variants land in Other rather than failing hard,
// since the program grows new formats over time.
type Payload interface {
	payload()
}

// Vote is the legacy variant: voted slots with implicit confirmation
// counts. The i-th-from-last slot has confirmation count len-i, so the
// last slot is the most recently voted one.
type Vote struct {
	Slots     []uint64
	Hash      [32]byte
	Timestamp *int64
}

// Lockout is a voted slot with its explicit confirmation depth.
type Lockout struct {
	Slot              uint64
	ConfirmationCount uint32
}

// TowerSync is the newer variant carrying explicit lockouts.
type TowerSync struct {
	Lockouts  []Lockout
	Root      *uint64
	Hash      [32]byte
	Timestamp *int64
	BlockID   [32]byte
}

// Other is any decoded variant that carries no usable voted slot.
type Other struct {
	Tag uint32
}

func (Vote) payload()      {}
func (TowerSync) payload() {}
func (Other) payload()     {}

// payloadReader walks the little-endian bincode encoding, naming the
// field that ran past the end of the buffer.
type payloadReader struct {
	buf []byte
	off int
}

func (r *payloadReader) u8(field string) (byte, error) {
	if r.off+1 > len(r.buf) {
		return 0, fmt.Errorf("payload truncated reading %s", field)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *payloadReader) u32(field string) (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("payload truncated reading %s", field)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *payloadReader) u64(field string) (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, fmt.Errorf("payload truncated reading %s", field)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *payloadReader) hash(field string) ([32]byte, error) {
	var h [32]byte
	if r.off+32 > len(r.buf) {
		return h, fmt.Errorf("payload truncated reading %s", field)
	}
	copy(h[:], r.buf[r.off:])
	r.off += 32
	return h, nil
}

// option reads a bincode Option tag. The value itself is read by the
// caller when present.
func (r *payloadReader) option(field string) (bool, error) {
	t, err := r.u8(field)
	if err != nil {
		return false, err
	}
	switch t {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid option tag %d for %s", t, field)
	}
}

// ParsePayload deserializes raw instruction bytes into a Payload. The
// encoding is bincode: a u32 enum tag, u64-length-prefixed sequences,
// and single-byte Option tags, all little-endian.
func ParsePayload(raw []byte) (Payload, error) {
	r := &payloadReader{buf: raw}
	tag, err := r.u32("instruction tag")
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagVote:
		return r.vote()
	case tagTowerSync:
		return r.towerSync()
	default:
		return Other{Tag: tag}, nil
	}
}

func (r *payloadReader) vote() (Payload, error) {
	n, err := r.u64("slots length")
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)-r.off)/8 {
		return nil, fmt.Errorf("slots length %d exceeds payload size", n)
	}
	v := Vote{Slots: make([]uint64, 0, n)}
	for i := uint64(0); i < n; i++ {
		s, err := r.u64("slot")
		if err != nil {
			return nil, err
		}
		v.Slots = append(v.Slots, s)
	}
	if v.Hash, err = r.hash("vote hash"); err != nil {
		return nil, err
	}
	present, err := r.option("vote timestamp")
	if err != nil {
		return nil, err
	}
	if present {
		ts, err := r.u64("vote timestamp value")
		if err != nil {
			return nil, err
		}
		signed := int64(ts)
		v.Timestamp = &signed
	}
	return v, nil
}

func (r *payloadReader) towerSync() (Payload, error) {
	n, err := r.u64("lockouts length")
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)-r.off)/12 {
		return nil, fmt.Errorf("lockouts length %d exceeds payload size", n)
	}
	t := TowerSync{Lockouts: make([]Lockout, 0, n)}
	for i := uint64(0); i < n; i++ {
		var l Lockout
		if l.Slot, err = r.u64("lockout slot"); err != nil {
			return nil, err
		}
		if l.ConfirmationCount, err = r.u32("lockout confirmation count"); err != nil {
			return nil, err
		}
		t.Lockouts = append(t.Lockouts, l)
	}
	present, err := r.option("tower sync root")
	if err != nil {
		return nil, err
	}
	if present {
		root, err := r.u64("tower sync root value")
		if err != nil {
			return nil, err
		}
		t.Root = &root
	}
	if t.Hash, err = r.hash("tower sync hash"); err != nil {
		return nil, err
	}
	present, err = r.option("tower sync timestamp")
	if err != nil {
		return nil, err
	}
	if present {
		ts, err := r.u64("tower sync timestamp value")
		if err != nil {
			return nil, err
		}
		signed := int64(ts)
		t.Timestamp = &signed
	}
	if t.BlockID, err = r.hash("tower sync block id"); err != nil {
		return nil, err
	}
	return t, nil
}

// RecoveredSlot extracts the most recently voted slot from a payload.
// For Vote that is the last slot (implicit confirmation count 1); for
// TowerSync, the lockout whose explicit confirmation count is 1. The
// second return is false when the payload carries no such slot.
func RecoveredSlot(p Payload) (uint64, bool) {
	switch v := p.(type) {
	case Vote:
		if len(v.Slots) == 0 {
			return 0, false
		}
		return v.Slots[len(v.Slots)-1], true
	case TowerSync:
		for _, l := range v.Lockouts {
			if l.ConfirmationCount == 1 {
				return l.Slot, true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}
