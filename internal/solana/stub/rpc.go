package stub

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"solana-liquidator/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. Fixture state lives in
// memory behind a mutex so tests can mutate it while the engine runs. Send
// and simulate calls consume scripted outcomes in FIFO order; once the
// script is exhausted they fall back to generated successes.
type RPCClient struct {
	mu sync.Mutex

	blockhash    solana.LatestBlockhash
	blockhashErr error
	blockHeight  uint64
	accounts     map[string]*solana.AccountInfo
	statuses     map[string]*solana.SignatureStatus

	sendQueue []sendScript
	simQueue  []simScript

	sent      []string
	simulated []string

	hashSeq     uint64
	sigSeq      uint64
	autoConfirm bool
}

type sendScript struct {
	signature string
	err       error
}

type simScript struct {
	result *solana.SimulationResult
	err    error
}

// NewRPCClient creates a stub client with a valid default blockhash.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		blockhash: solana.LatestBlockhash{
			Blockhash:            stubHash(1),
			LastValidBlockHeight: 1300,
			Slot:                 1000,
		},
		blockHeight: 1000,
		accounts:    make(map[string]*solana.AccountInfo),
		statuses:    make(map[string]*solana.SignatureStatus),
		hashSeq:     1,
	}
}

// stubHash encodes a deterministic 32-byte value so compiled transactions
// accept it as a recent blockhash.
func stubHash(seq uint64) string {
	raw := make([]byte, 32)
	binary.LittleEndian.PutUint64(raw, seq)
	for i := 8; i < len(raw); i++ {
		raw[i] = byte(i)
	}
	return base58.Encode(raw)
}

// GetLatestBlockhash returns the current blockhash fixture.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.LatestBlockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockhashErr != nil {
		return nil, c.blockhashErr
	}
	bh := c.blockhash
	return &bh, nil
}

// GetBlockHeight returns the current block height fixture.
func (c *RPCClient) GetBlockHeight(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockHeight, nil
}

// SendTransaction records the payload and returns the next scripted outcome,
// or a generated signature when the script is exhausted.
func (c *RPCClient) SendTransaction(_ context.Context, txBase64 string, _ *solana.SendOpts) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, txBase64)

	if len(c.sendQueue) > 0 {
		s := c.sendQueue[0]
		c.sendQueue = c.sendQueue[1:]
		if s.err != nil {
			return "", s.err
		}
		c.markSentLocked(s.signature)
		return s.signature, nil
	}

	c.sigSeq++
	sig := fmt.Sprintf("stub-sig-%d", c.sigSeq)
	c.markSentLocked(sig)
	return sig, nil
}

func (c *RPCClient) markSentLocked(sig string) {
	if !c.autoConfirm {
		return
	}
	c.statuses[sig] = &solana.SignatureStatus{
		Slot:               c.blockhash.Slot,
		ConfirmationStatus: "confirmed",
	}
}

// SimulateTransaction records the payload and returns the next scripted
// result. Without a script it succeeds and echoes the fixture state of any
// requested accounts, standing in for post-execution state.
func (c *RPCClient) SimulateTransaction(_ context.Context, txBase64 string, opts *solana.SimulateOpts) (*solana.SimulationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simulated = append(c.simulated, txBase64)

	if len(c.simQueue) > 0 {
		s := c.simQueue[0]
		c.simQueue = c.simQueue[1:]
		return s.result, s.err
	}

	res := &solana.SimulationResult{Slot: c.blockhash.Slot, UnitsConsumed: 150000}
	if opts != nil {
		for _, pk := range opts.Accounts {
			res.Accounts = append(res.Accounts, copyAccount(c.accounts[pk]))
		}
	}
	return res, nil
}

// GetSignatureStatuses returns fixture statuses, nil for unknown signatures.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if st, ok := c.statuses[sig]; ok {
			cp := *st
			out[i] = &cp
		}
	}
	return out, nil
}

// GetMultipleAccounts returns fixture accounts, nil for missing pubkeys.
func (c *RPCClient) GetMultipleAccounts(_ context.Context, pubkeys []string) ([]*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.AccountInfo, len(pubkeys))
	for i, pk := range pubkeys {
		out[i] = copyAccount(c.accounts[pk])
	}
	return out, nil
}

func copyAccount(info *solana.AccountInfo) *solana.AccountInfo {
	if info == nil {
		return nil
	}
	cp := *info
	return &cp
}

// SetBlockhash replaces the blockhash fixture.
func (c *RPCClient) SetBlockhash(hash string, lastValidBlockHeight, slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockhash = solana.LatestBlockhash{
		Blockhash:            hash,
		LastValidBlockHeight: lastValidBlockHeight,
		Slot:                 slot,
	}
}

// RotateBlockhash installs a fresh blockhash and advances the expiry window,
// as a new leader would. Returns the new hash.
func (c *RPCClient) RotateBlockhash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashSeq++
	c.blockhash = solana.LatestBlockhash{
		Blockhash:            stubHash(c.hashSeq),
		LastValidBlockHeight: c.blockhash.LastValidBlockHeight + 300,
		Slot:                 c.blockhash.Slot + 32,
	}
	return c.blockhash.Blockhash
}

// FailBlockhash makes GetLatestBlockhash return err until cleared with nil.
func (c *RPCClient) FailBlockhash(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockhashErr = err
}

// SetBlockHeight replaces the block height fixture.
func (c *RPCClient) SetBlockHeight(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockHeight = height
}

// SetAutoConfirm makes every accepted send immediately confirmed.
func (c *RPCClient) SetAutoConfirm(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoConfirm = v
}

// SetAccount installs an account fixture.
func (c *RPCClient) SetAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[pubkey] = copyAccount(info)
}

// SetTokenBalance installs a token account fixture holding the given amount.
func (c *RPCClient) SetTokenBalance(pubkey string, amount uint64) {
	data := make([]byte, 165)
	binary.LittleEndian.PutUint64(data[64:], amount)
	c.SetAccount(pubkey, &solana.AccountInfo{
		Lamports: 2039280,
		Owner:    solana.TokenProgramID,
		Data:     base64.StdEncoding.EncodeToString(data),
	})
}

// SetStatus installs a signature status fixture.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *status
	c.statuses[signature] = &cp
}

// Confirm marks a signature as confirmed without an error.
func (c *RPCClient) Confirm(signature string) {
	c.SetStatus(signature, &solana.SignatureStatus{
		Slot:               1,
		ConfirmationStatus: "confirmed",
	})
}

// QueueSendError scripts the next SendTransaction call to fail.
func (c *RPCClient) QueueSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendQueue = append(c.sendQueue, sendScript{err: err})
}

// QueueSendSignature scripts the next SendTransaction call to succeed with
// the given signature.
func (c *RPCClient) QueueSendSignature(sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendQueue = append(c.sendQueue, sendScript{signature: sig})
}

// QueueSimulation scripts the next SimulateTransaction outcome.
func (c *RPCClient) QueueSimulation(result *solana.SimulationResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simQueue = append(c.simQueue, simScript{result: result, err: err})
}

// Sent returns every payload passed to SendTransaction, in call order.
func (c *RPCClient) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Simulated returns every payload passed to SimulateTransaction, in call order.
func (c *RPCClient) Simulated() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.simulated...)
}

// Verify interface compliance at compile time.
var _ solana.RPCClient = (*RPCClient)(nil)
