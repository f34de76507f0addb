package decoder

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curve-tracker/internal/domain"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub
}

type fullFields struct {
	mint, user   []byte
	solAmount    uint64
	tokenAmount  uint64
	isBuy        byte
	timestamp    int64
	virtualSol   uint64
	virtualToken uint64
}

func fullPayload(f fullFields) []byte {
	data := make([]byte, domain.LayoutFull.Size())
	copy(data[fullMintOffset:], f.mint)
	binary.LittleEndian.PutUint64(data[fullSolAmountOffset:], f.solAmount)
	binary.LittleEndian.PutUint64(data[fullTokenAmountOffset:], f.tokenAmount)
	data[56] = f.isBuy
	copy(data[fullUserOffset:], f.user)
	binary.LittleEndian.PutUint64(data[fullTimestampOffset:], uint64(f.timestamp))
	binary.LittleEndian.PutUint64(data[fullVirtualSolOffset:], f.virtualSol)
	binary.LittleEndian.PutUint64(data[fullVirtualTokenOffset:], f.virtualToken)
	return data
}

func compactPayload(mint []byte, virtualToken, virtualSol uint64) []byte {
	data := make([]byte, domain.LayoutCompact.Size())
	copy(data[compactMintOffset:], mint)
	binary.LittleEndian.PutUint64(data[compactVirtualTokenOffset:], virtualToken)
	binary.LittleEndian.PutUint64(data[compactVirtualSolOffset:], virtualSol)
	return data
}

func dataLine(data []byte) string {
	return DataPrefix + base64.StdEncoding.EncodeToString(data)
}

func TestDecodeEvent_FullLayout(t *testing.T) {
	mint := newKey(t)
	user := newKey(t)
	payload := fullPayload(fullFields{
		mint:         mint,
		user:         user,
		solAmount:    1_500_000_000,
		tokenAmount:  42_000_000,
		isBuy:        1,
		timestamp:    1_700_000_000,
		virtualSol:   60_000_000_000,
		virtualToken: 500_000_000_000_000,
	})
	logs := []string{"Program log: Instruction: Buy", dataLine(payload)}

	d := New(DefaultConfig())
	ev, err := d.DecodeEvent(payload, logs, 1)
	require.NoError(t, err)

	assert.Equal(t, base58.Encode(mint), ev.Mint)
	assert.Equal(t, base58.Encode(user), ev.User)
	assert.Equal(t, uint64(1_500_000_000), ev.SolAmount)
	assert.Equal(t, uint64(42_000_000), ev.TokenAmount)
	assert.Equal(t, uint64(60_000_000_000), ev.VirtualSolReserves)
	assert.Equal(t, uint64(500_000_000_000_000), ev.VirtualTokenReserves)
	assert.Equal(t, domain.LayoutFull, ev.Layout)
	assert.Equal(t, domain.DirectionBuy, ev.Direction)
	assert.Equal(t, 1, ev.EventIndex)
	require.NotNil(t, ev.Timestamp)
	assert.Equal(t, int64(1_700_000_000), *ev.Timestamp)
}

func TestDecodeEvent_DirectionIgnoresPayloadFlag(t *testing.T) {
	payload := fullPayload(fullFields{
		mint:         newKey(t),
		user:         newKey(t),
		isBuy:        1,
		virtualSol:   40_000_000_000,
		virtualToken: 700_000_000_000_000,
	})
	d := New(DefaultConfig())

	ev, err := d.DecodeEvent(payload, []string{"Program log: Instruction: Sell", "Program data: x"}, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionSell, ev.Direction)

	ev, err = d.DecodeEvent(payload, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionUnknown, ev.Direction)
}

func TestDecodeEvent_FullLayoutOptionalFields(t *testing.T) {
	payload := fullPayload(fullFields{
		mint:         newKey(t),
		virtualSol:   40_000_000_000,
		virtualToken: 700_000_000_000_000,
	})

	ev, err := New(DefaultConfig()).DecodeEvent(payload, nil, -1)
	require.NoError(t, err)
	assert.Empty(t, ev.User, "zero user address is dropped, not rejected")
	assert.Nil(t, ev.Timestamp)
}

func TestDecodeEvent_CompactLayout(t *testing.T) {
	mint := newKey(t)
	payload := compactPayload(mint, 800_000_000_000_000, 35_000_000_000)

	ev, err := New(DefaultConfig()).DecodeEvent(payload, []string{"Program log: Instruction: Buy"}, 0)
	require.NoError(t, err)

	assert.Equal(t, base58.Encode(mint), ev.Mint)
	assert.Equal(t, uint64(35_000_000_000), ev.VirtualSolReserves)
	assert.Equal(t, uint64(800_000_000_000_000), ev.VirtualTokenReserves)
	assert.Equal(t, domain.LayoutCompact, ev.Layout)
	assert.Zero(t, ev.SolAmount)
	assert.Zero(t, ev.TokenAmount)
	assert.Empty(t, ev.User)
	assert.Nil(t, ev.Timestamp)
	assert.Equal(t, domain.DirectionBuy, ev.Direction)
}

func TestDecodeEvent_Failures(t *testing.T) {
	d := New(DefaultConfig())

	tests := []struct {
		name string
		data []byte
		kind FailureKind
	}{
		{"wrong size", make([]byte, 50), FailureWrongSize},
		{"one byte short of full", make([]byte, 224), FailureWrongSize},
		{"empty", nil, FailureCorruptPayload},
		{"zero mint full", fullPayload(fullFields{virtualSol: 1, virtualToken: 1}), FailureInvalidAddress},
		{"zero mint compact", compactPayload(make([]byte, 32), 1, 1), FailureInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := d.DecodeEvent(tt.data, nil, -1)
			assert.Nil(t, ev)
			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
			assert.Equal(t, tt.kind, decErr.Kind)
			assert.Equal(t, tt.kind == FailureWrongSize, decErr.IsUnsupported())
		})
	}
}

func TestDecodeLogs_IndependentLines(t *testing.T) {
	mintA := newKey(t)
	mintB := newKey(t)
	logs := []string{
		"Program 6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P invoke [1]",
		"Program log: Instruction: Buy",
		dataLine(compactPayload(mintA, 900_000_000_000_000, 31_000_000_000)),
		"Program data: !!!not-base64!!!",
		dataLine(make([]byte, 50)),
		"Program log: Instruction: Sell",
		dataLine(compactPayload(mintB, 600_000_000_000_000, 50_000_000_000)),
		"Program data: ",
	}

	res := New(DefaultConfig()).DecodeLogs(logs, "sig-1", 77)

	require.Len(t, res.Events, 2)
	assert.Equal(t, base58.Encode(mintA), res.Events[0].Mint)
	assert.Equal(t, domain.DirectionBuy, res.Events[0].Direction)
	assert.Equal(t, 2, res.Events[0].EventIndex)
	assert.Equal(t, base58.Encode(mintB), res.Events[1].Mint)
	assert.Equal(t, domain.DirectionSell, res.Events[1].Direction)
	for _, ev := range res.Events {
		assert.Equal(t, "sig-1", ev.Signature)
		assert.Equal(t, uint64(77), ev.Slot)
	}

	require.Len(t, res.Failures, 3)
	assert.Equal(t, FailureCorruptPayload, res.Failures[0].Kind)
	assert.Equal(t, 3, res.Failures[0].LogIndex)
	assert.Equal(t, FailureWrongSize, res.Failures[1].Kind)
	assert.Equal(t, 50, res.Failures[1].Size)
	assert.Equal(t, FailureCorruptPayload, res.Failures[2].Kind)
}

func TestDecodeLogs_RawBase64(t *testing.T) {
	payload := compactPayload(newKey(t), 900_000_000_000_000, 31_000_000_000)
	logs := []string{DataPrefix + base64.RawStdEncoding.EncodeToString(payload)}

	res := New(DefaultConfig()).DecodeLogs(logs, "sig", 1)
	require.Len(t, res.Events, 1)
	assert.Empty(t, res.Failures)
}

func TestDecodeMessage(t *testing.T) {
	payload := compactPayload(newKey(t), 900_000_000_000_000, 31_000_000_000)
	d := New(DefaultConfig())

	msg := &domain.RawUpdateMessage{
		Signature:   "sig",
		Slot:        5,
		Transaction: &domain.TransactionPayload{Logs: []string{dataLine(payload)}},
	}
	res := d.DecodeMessage(msg)
	require.Len(t, res.Events, 1)
	assert.Equal(t, uint64(5), res.Events[0].Slot)

	msg.Transaction.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	assert.Empty(t, d.DecodeMessage(msg).Events, "failed transactions are skipped")

	assert.Empty(t, d.DecodeMessage(&domain.RawUpdateMessage{Signature: "sig"}).Events)
	assert.Empty(t, d.DecodeMessage(nil).Events)
}

func TestDecoder_RequireOnCurveMint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireOnCurveMint = true
	d := New(cfg)

	_, err := d.DecodeEvent(compactPayload(newKey(t), 1, 1), nil, -1)
	require.NoError(t, err)
}

func TestInferDirection(t *testing.T) {
	tests := []struct {
		name     string
		logs     []string
		logIndex int
		want     domain.Direction
	}{
		{"nearest preceding wins", []string{"Instruction: Sell", "Instruction: Buy", "data"}, 2, domain.DirectionBuy},
		{"falls back to any line", []string{"data", "Instruction: Sell"}, 0, domain.DirectionSell},
		{"no keywords", []string{"data"}, 0, domain.DirectionUnknown},
		{"index past end", []string{"Instruction: Buy"}, 10, domain.DirectionBuy},
		{"empty logs", nil, 0, domain.DirectionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferDirection(tt.logs, tt.logIndex, DefaultBuyKeywords, DefaultSellKeywords)
			assert.Equal(t, tt.want, got)
		})
	}
}
