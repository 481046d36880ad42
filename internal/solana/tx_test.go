package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
)

func testBlockhash() string {
	return base58.Encode(bytes.Repeat([]byte{9}, 32))
}

func mustKeypair(t *testing.T) *Keypair {
	t.Helper()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return kp
}

func TestCompileSignDecode_RoundTrip(t *testing.T) {
	payer := mustKeypair(t)
	acctA := mustKeypair(t).Pubkey()
	acctB := mustKeypair(t).Pubkey()
	program := mustKeypair(t).Pubkey()

	ixs := []Instruction{
		SetComputeUnitLimit(1_400_000),
		{
			ProgramID: program,
			Accounts: []AccountMeta{
				Meta(acctA, false, true),
				Meta(acctB, false, false),
				Meta(payer.Pubkey(), true, true),
			},
			Data: []byte{1, 2, 3, 4},
		},
	}

	msg, err := CompileMessage(payer.Pubkey(), testBlockhash(), ixs)
	if err != nil {
		t.Fatalf("CompileMessage: %v", err)
	}

	if msg.AccountKeys[0] != payer.Pubkey() {
		t.Errorf("expected fee payer first, got %s", msg.AccountKeys[0])
	}
	if msg.Header.NumRequiredSignatures != 1 {
		t.Errorf("expected 1 required signature, got %d", msg.Header.NumRequiredSignatures)
	}

	signed, err := SignTransaction(msg, payer)
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}

	if signed.Size() != len(signed.Raw) {
		t.Errorf("Size mismatch: %d vs %d", signed.Size(), len(signed.Raw))
	}
	if signed.Size() >= MaxTransactionSize {
		t.Errorf("small transaction exceeds wire limit: %d", signed.Size())
	}
	if signed.Signature() == "" {
		t.Error("expected non-empty signature")
	}

	// The primary signature must verify against the fee payer key over the
	// serialized message.
	pub, err := base58.Decode(payer.Pubkey())
	if err != nil {
		t.Fatalf("decode pubkey: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg.Serialize(), signed.Signatures[0]) {
		t.Error("signature does not verify")
	}

	raw, err := base64.StdEncoding.DecodeString(signed.Base64())
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if !bytes.Equal(raw, signed.Raw) {
		t.Error("Base64 does not round-trip to raw bytes")
	}

	decoded, err := DecodeTransaction(signed.Raw)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(decoded))
	}

	if decoded[0].ProgramID != ComputeBudgetProgramID {
		t.Errorf("expected compute budget program, got %s", decoded[0].ProgramID)
	}
	if tag, ok := ParseComputeBudget(decoded[0].Data); !ok || tag != 2 {
		t.Errorf("expected unit-limit directive, got tag=%d ok=%v", tag, ok)
	}

	if decoded[1].ProgramID != program {
		t.Errorf("expected program %s, got %s", program, decoded[1].ProgramID)
	}
	wantAccounts := []string{acctA, acctB, payer.Pubkey()}
	if len(decoded[1].Accounts) != len(wantAccounts) {
		t.Fatalf("expected %d accounts, got %d", len(wantAccounts), len(decoded[1].Accounts))
	}
	for i, want := range wantAccounts {
		if decoded[1].Accounts[i] != want {
			t.Errorf("account %d: expected %s, got %s", i, want, decoded[1].Accounts[i])
		}
	}
	if !bytes.Equal(decoded[1].Data, []byte{1, 2, 3, 4}) {
		t.Errorf("unexpected data: %v", decoded[1].Data)
	}
}

func TestCompileMessage_AccountClassOrder(t *testing.T) {
	payer := mustKeypair(t)
	extraSigner := mustKeypair(t)
	writable := mustKeypair(t).Pubkey()
	readonly := mustKeypair(t).Pubkey()
	program := mustKeypair(t).Pubkey()

	ixs := []Instruction{
		{
			ProgramID: program,
			Accounts: []AccountMeta{
				Meta(readonly, false, false),
				Meta(writable, false, true),
				Meta(extraSigner.Pubkey(), true, false),
			},
			Data: []byte{0xff},
		},
	}

	msg, err := CompileMessage(payer.Pubkey(), testBlockhash(), ixs)
	if err != nil {
		t.Fatalf("CompileMessage: %v", err)
	}

	want := []string{payer.Pubkey(), extraSigner.Pubkey(), writable, readonly, program}
	if len(msg.AccountKeys) != len(want) {
		t.Fatalf("expected %d keys, got %d: %v", len(want), len(msg.AccountKeys), msg.AccountKeys)
	}
	for i, pk := range want {
		if msg.AccountKeys[i] != pk {
			t.Errorf("key %d: expected %s, got %s", i, pk, msg.AccountKeys[i])
		}
	}

	if msg.Header.NumRequiredSignatures != 2 {
		t.Errorf("expected 2 required signatures, got %d", msg.Header.NumRequiredSignatures)
	}
	if msg.Header.NumReadonlySignedAccounts != 1 {
		t.Errorf("expected 1 readonly signed, got %d", msg.Header.NumReadonlySignedAccounts)
	}
	if msg.Header.NumReadonlyUnsignedAccounts != 2 {
		t.Errorf("expected 2 readonly unsigned, got %d", msg.Header.NumReadonlyUnsignedAccounts)
	}

	// Both signers are required; signing with only the payer must fail.
	if _, err := SignTransaction(msg, payer); err == nil {
		t.Error("expected missing-signer error")
	}

	signed, err := SignTransaction(msg, payer, extraSigner)
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	if len(signed.Signatures) != 2 {
		t.Errorf("expected 2 signatures, got %d", len(signed.Signatures))
	}
}

func TestCompileMessage_FlagMerge(t *testing.T) {
	payer := mustKeypair(t)
	shared := mustKeypair(t).Pubkey()
	program := mustKeypair(t).Pubkey()

	// Same account readonly in one instruction, writable in another: it must
	// appear once, in the writable class.
	ixs := []Instruction{
		{ProgramID: program, Accounts: []AccountMeta{Meta(shared, false, false)}, Data: []byte{1}},
		{ProgramID: program, Accounts: []AccountMeta{Meta(shared, false, true)}, Data: []byte{2}},
	}

	msg, err := CompileMessage(payer.Pubkey(), testBlockhash(), ixs)
	if err != nil {
		t.Fatalf("CompileMessage: %v", err)
	}

	count := 0
	for _, pk := range msg.AccountKeys {
		if pk == shared {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected shared account once, got %d occurrences", count)
	}

	// payer, shared(writable), program(readonly)
	if msg.AccountKeys[1] != shared {
		t.Errorf("expected shared account in writable position, got %v", msg.AccountKeys)
	}
	if msg.Header.NumReadonlyUnsignedAccounts != 1 {
		t.Errorf("expected only the program readonly, got %d", msg.Header.NumReadonlyUnsignedAccounts)
	}
}

func TestCompileMessage_Errors(t *testing.T) {
	payer := mustKeypair(t)
	program := mustKeypair(t).Pubkey()

	if _, err := CompileMessage("", testBlockhash(), []Instruction{SetComputeUnitLimit(1)}); err == nil {
		t.Error("expected error for empty fee payer")
	}

	if _, err := CompileMessage(payer.Pubkey(), testBlockhash(), nil); err == nil {
		t.Error("expected error for no instructions")
	}

	ixs := []Instruction{
		{ProgramID: program, Accounts: []AccountMeta{Meta("not-base58!", false, false)}, Data: []byte{1}},
	}
	if _, err := CompileMessage(payer.Pubkey(), testBlockhash(), ixs); err == nil {
		t.Error("expected error for invalid account pubkey")
	}

	if _, err := CompileMessage(payer.Pubkey(), "bad-blockhash", []Instruction{SetComputeUnitLimit(1)}); err == nil {
		t.Error("expected error for invalid blockhash")
	}
}

func TestShortVecLen(t *testing.T) {
	cases := []struct {
		n    int
		wire []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16383, []byte{0xff, 0x7f}},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		writeShortVecLen(&buf, tc.n)
		if !bytes.Equal(buf.Bytes(), tc.wire) {
			t.Errorf("encode %d: expected %v, got %v", tc.n, tc.wire, buf.Bytes())
		}

		r := &byteReader{buf: buf.Bytes()}
		got, err := r.shortVecLen()
		if err != nil {
			t.Errorf("decode %d: %v", tc.n, err)
			continue
		}
		if got != tc.n {
			t.Errorf("round-trip %d: got %d", tc.n, got)
		}
	}
}

func TestComputeBudgetInstructions(t *testing.T) {
	limit := SetComputeUnitLimit(600_000)
	if limit.ProgramID != ComputeBudgetProgramID {
		t.Errorf("unexpected program: %s", limit.ProgramID)
	}
	if len(limit.Data) != 5 || limit.Data[0] != 2 {
		t.Errorf("unexpected unit-limit data: %v", limit.Data)
	}
	if tag, ok := ParseComputeBudget(limit.Data); !ok || tag != 2 {
		t.Errorf("ParseComputeBudget(limit): tag=%d ok=%v", tag, ok)
	}

	price := SetComputeUnitPrice(10_000)
	if len(price.Data) != 9 || price.Data[0] != 3 {
		t.Errorf("unexpected unit-price data: %v", price.Data)
	}
	if tag, ok := ParseComputeBudget(price.Data); !ok || tag != 3 {
		t.Errorf("ParseComputeBudget(price): tag=%d ok=%v", tag, ok)
	}

	if _, ok := ParseComputeBudget(nil); ok {
		t.Error("expected not-ok for empty data")
	}
	if _, ok := ParseComputeBudget([]byte{2, 0}); ok {
		t.Error("expected not-ok for truncated unit-limit data")
	}
	if _, ok := ParseComputeBudget([]byte{9, 1, 2, 3}); ok {
		t.Error("expected not-ok for unknown tag")
	}
}

func TestDecodeTransaction_Truncated(t *testing.T) {
	payer := mustKeypair(t)
	msg, err := CompileMessage(payer.Pubkey(), testBlockhash(), []Instruction{SetComputeUnitLimit(1)})
	if err != nil {
		t.Fatalf("CompileMessage: %v", err)
	}
	signed, err := SignTransaction(msg, payer)
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}

	if _, err := DecodeTransaction(signed.Raw[:len(signed.Raw)/2]); err == nil {
		t.Error("expected error for truncated transaction")
	}

	if _, err := DecodeTransaction(nil); err == nil {
		t.Error("expected error for empty input")
	}
}
