package solana

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// MaxTransactionSize is the wire-size limit for one transaction
// (IPv6 MTU 1280 minus 40 bytes IP header minus 8 bytes fragment header).
const MaxTransactionSize = 1232

// Well-known program and sysvar addresses.
const (
	SystemProgramID        = "11111111111111111111111111111111"
	TokenProgramID         = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramID = "ComputeBudget111111111111111111111111111111"
	SysvarRentID           = "SysvarRent111111111111111111111111111111111"
	SysvarInstructionsID   = "Sysvar1nstructions1111111111111111111111111"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Pubkey   string
	Signer   bool
	Writable bool
}

// Meta builds an AccountMeta.
func Meta(pubkey string, signer, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, Signer: signer, Writable: writable}
}

// Instruction is one uncompiled instruction: a program, its account list in
// program-defined order, and opaque data bytes.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// CompiledInstruction is one instruction recovered from wire form, with
// account indices resolved back to pubkeys.
type CompiledInstruction struct {
	ProgramID string
	Accounts  []string
	Data      []byte
}

// Transaction wire layout (legacy format):
//
//	[0]   compact-u16 signature count
//	[...] signatures, 64 bytes each
//	[...] message:
//	      [0] numRequiredSignatures (u8)
//	      [1] numReadonlySignedAccounts (u8)
//	      [2] numReadonlyUnsignedAccounts (u8)
//	      compact-u16 account count, then 32-byte pubkeys
//	      32-byte recent blockhash
//	      compact-u16 instruction count, then per instruction:
//	        programIdIndex (u8)
//	        compact-u16 account index count, u8 indices
//	        compact-u16 data length, data bytes

// Message is a compiled transaction message ready for signing.
type Message struct {
	AccountKeys     []string // fee payer first, then by signer/writable class
	Header          MessageHeader
	RecentBlockhash string
	Instructions    []compiledIx

	raw []byte // serialized form, built by CompileMessage
}

// MessageHeader mirrors the three header bytes of the wire format.
type MessageHeader struct {
	NumRequiredSignatures       int
	NumReadonlySignedAccounts   int
	NumReadonlyUnsignedAccounts int
}

type compiledIx struct {
	ProgramIDIndex int
	AccountIndices []int
	Data           []byte
}

// Serialize returns the wire bytes of the message (the signing payload).
func (m *Message) Serialize() []byte {
	return m.raw
}

// CompileMessage assembles instructions into a legacy message. The fee payer
// is always the first account; remaining accounts are ordered writable
// signers, readonly signers, writable non-signers, readonly non-signers,
// with flags merged when the same pubkey appears in several roles.
func CompileMessage(feePayer string, blockhash string, instructions []Instruction) (*Message, error) {
	if feePayer == "" {
		return nil, fmt.Errorf("compile message: empty fee payer")
	}
	if len(instructions) == 0 {
		return nil, fmt.Errorf("compile message: no instructions")
	}

	type acct struct {
		pubkey   string
		signer   bool
		writable bool
	}
	merged := map[string]*acct{}
	order := []string{}
	upsert := func(pubkey string, signer, writable bool) {
		a, ok := merged[pubkey]
		if !ok {
			a = &acct{pubkey: pubkey}
			merged[pubkey] = a
			order = append(order, pubkey)
		}
		a.signer = a.signer || signer
		a.writable = a.writable || writable
	}

	upsert(feePayer, true, true)
	for _, ix := range instructions {
		for _, m := range ix.Accounts {
			upsert(m.Pubkey, m.Signer, m.Writable)
		}
		upsert(ix.ProgramID, false, false)
	}

	// Stable class sort: fee payer, writable signers, readonly signers,
	// writable non-signers, readonly non-signers.
	classOf := func(a *acct) int {
		switch {
		case a.pubkey == feePayer:
			return 0
		case a.signer && a.writable:
			return 1
		case a.signer:
			return 2
		case a.writable:
			return 3
		default:
			return 4
		}
	}
	var keys []string
	for class := 0; class <= 4; class++ {
		for _, pk := range order {
			if classOf(merged[pk]) == class {
				keys = append(keys, pk)
			}
		}
	}

	index := make(map[string]int, len(keys))
	for i, pk := range keys {
		index[pk] = i
	}

	var header MessageHeader
	for _, pk := range keys {
		a := merged[pk]
		if a.signer {
			header.NumRequiredSignatures++
			if !a.writable {
				header.NumReadonlySignedAccounts++
			}
		} else if !a.writable {
			header.NumReadonlyUnsignedAccounts++
		}
	}

	msg := &Message{
		AccountKeys:     keys,
		Header:          header,
		RecentBlockhash: blockhash,
	}
	for _, ix := range instructions {
		cix := compiledIx{
			ProgramIDIndex: index[ix.ProgramID],
			Data:           ix.Data,
		}
		for _, m := range ix.Accounts {
			cix.AccountIndices = append(cix.AccountIndices, index[m.Pubkey])
		}
		msg.Instructions = append(msg.Instructions, cix)
	}

	raw, err := serializeMessage(msg)
	if err != nil {
		return nil, err
	}
	msg.raw = raw
	return msg, nil
}

func serializeMessage(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Header.NumRequiredSignatures))
	buf.WriteByte(byte(m.Header.NumReadonlySignedAccounts))
	buf.WriteByte(byte(m.Header.NumReadonlyUnsignedAccounts))

	writeShortVecLen(&buf, len(m.AccountKeys))
	for _, pk := range m.AccountKeys {
		raw, err := base58.Decode(pk)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("serialize message: bad pubkey %q", pk)
		}
		buf.Write(raw)
	}

	bh, err := base58.Decode(m.RecentBlockhash)
	if err != nil || len(bh) != 32 {
		return nil, fmt.Errorf("serialize message: bad blockhash %q", m.RecentBlockhash)
	}
	buf.Write(bh)

	writeShortVecLen(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(byte(ix.ProgramIDIndex))
		writeShortVecLen(&buf, len(ix.AccountIndices))
		for _, ai := range ix.AccountIndices {
			buf.WriteByte(byte(ai))
		}
		writeShortVecLen(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes(), nil
}

// SignedTransaction is a fully signed transaction plus the metadata callers
// need to resend or inspect it.
type SignedTransaction struct {
	Message    *Message
	Signatures [][]byte
	Raw        []byte // full wire bytes
}

// Base64 returns the encoding sendTransaction and simulateTransaction expect.
func (t *SignedTransaction) Base64() string {
	return base64.StdEncoding.EncodeToString(t.Raw)
}

// Signature returns the base58 primary signature (the transaction id).
func (t *SignedTransaction) Signature() string {
	if len(t.Signatures) == 0 {
		return ""
	}
	return base58.Encode(t.Signatures[0])
}

// Size returns the wire size in bytes.
func (t *SignedTransaction) Size() int {
	return len(t.Raw)
}

// SignTransaction signs the compiled message with the given signers, in the
// message's required-signature order. Every required signer must be present.
func SignTransaction(msg *Message, signers ...*Keypair) (*SignedTransaction, error) {
	byPubkey := make(map[string]*Keypair, len(signers))
	for _, s := range signers {
		byPubkey[s.Pubkey()] = s
	}

	payload := msg.Serialize()
	sigs := make([][]byte, 0, msg.Header.NumRequiredSignatures)
	for i := 0; i < msg.Header.NumRequiredSignatures; i++ {
		pk := msg.AccountKeys[i]
		kp, ok := byPubkey[pk]
		if !ok {
			return nil, fmt.Errorf("sign transaction: missing signer %s", pk)
		}
		sigs = append(sigs, kp.Sign(payload))
	}

	var buf bytes.Buffer
	writeShortVecLen(&buf, len(sigs))
	for _, sig := range sigs {
		buf.Write(sig)
	}
	buf.Write(payload)

	return &SignedTransaction{Message: msg, Signatures: sigs, Raw: buf.Bytes()}, nil
}

// DecodeTransaction parses wire bytes back into per-instruction program ids,
// account pubkeys and data. Used to validate a compiled transaction against
// the order it was built from.
func DecodeTransaction(raw []byte) ([]CompiledInstruction, error) {
	r := &byteReader{buf: raw}

	sigCount, err := r.shortVecLen()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: signature count: %w", err)
	}
	if err := r.skip(sigCount * 64); err != nil {
		return nil, fmt.Errorf("decode transaction: signatures: %w", err)
	}

	header, err := r.bytes(3)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: header: %w", err)
	}
	_ = header

	keyCount, err := r.shortVecLen()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: account count: %w", err)
	}
	keys := make([]string, keyCount)
	for i := 0; i < keyCount; i++ {
		pk, err := r.bytes(32)
		if err != nil {
			return nil, fmt.Errorf("decode transaction: account %d: %w", i, err)
		}
		keys[i] = base58.Encode(pk)
	}

	if err := r.skip(32); err != nil { // recent blockhash
		return nil, fmt.Errorf("decode transaction: blockhash: %w", err)
	}

	ixCount, err := r.shortVecLen()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: instruction count: %w", err)
	}
	out := make([]CompiledInstruction, 0, ixCount)
	for i := 0; i < ixCount; i++ {
		progIdx, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("decode transaction: instruction %d program index: %w", i, err)
		}
		if int(progIdx) >= len(keys) {
			return nil, fmt.Errorf("decode transaction: instruction %d program index %d out of range", i, progIdx)
		}
		acctCount, err := r.shortVecLen()
		if err != nil {
			return nil, fmt.Errorf("decode transaction: instruction %d account count: %w", i, err)
		}
		accounts := make([]string, acctCount)
		for j := 0; j < acctCount; j++ {
			ai, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("decode transaction: instruction %d account %d: %w", i, j, err)
			}
			if int(ai) >= len(keys) {
				return nil, fmt.Errorf("decode transaction: instruction %d account index %d out of range", i, ai)
			}
			accounts[j] = keys[ai]
		}
		dataLen, err := r.shortVecLen()
		if err != nil {
			return nil, fmt.Errorf("decode transaction: instruction %d data length: %w", i, err)
		}
		data, err := r.bytes(dataLen)
		if err != nil {
			return nil, fmt.Errorf("decode transaction: instruction %d data: %w", i, err)
		}
		out = append(out, CompiledInstruction{
			ProgramID: keys[progIdx],
			Accounts:  accounts,
			Data:      append([]byte(nil), data...),
		})
	}
	return out, nil
}

// writeShortVecLen appends a compact-u16 length: 7 bits per byte, low bits
// first, high bit set while more bytes follow.
func writeShortVecLen(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("unexpected end of input at %d", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of input at %d (want %d bytes)", r.pos, n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

func (r *byteReader) shortVecLen() (int, error) {
	var out, shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		out |= uint(b&0x7f) << shift
		if b&0x80 == 0 {
			return int(out), nil
		}
		shift += 7
		if shift > 14 {
			return 0, fmt.Errorf("compact-u16 overflow")
		}
	}
}

// ComputeBudget instruction data layout:
//
//	SetComputeUnitLimit: [0]=2, [1..4]=units (u32 LE)
//	SetComputeUnitPrice: [0]=3, [1..8]=micro-lamports per CU (u64 LE)
const (
	computeBudgetSetLimitTag = 2
	computeBudgetSetPriceTag = 3
)

// SetComputeUnitLimit builds the compute-unit limit directive.
func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetLimitTag
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// SetComputeUnitPrice builds the priority-fee directive.
func SetComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = computeBudgetSetPriceTag
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// ParseComputeBudget reports which compute-budget directive the data encodes.
func ParseComputeBudget(data []byte) (tag byte, ok bool) {
	if len(data) == 0 {
		return 0, false
	}
	switch data[0] {
	case computeBudgetSetLimitTag:
		return computeBudgetSetLimitTag, len(data) == 5
	case computeBudgetSetPriceTag:
		return computeBudgetSetPriceTag, len(data) == 9
	}
	return 0, false
}
