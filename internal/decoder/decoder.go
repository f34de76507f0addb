// Package decoder extracts bonding-curve trade events from transaction logs.
// It understands the full and compact binary layouts and classifies every
// other payload as a decode failure instead of returning an error for the message.
package decoder

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/solana"
)

// DataPrefix marks a log line carrying a base64 event payload.
const DataPrefix = "Program data: "

var errEmptyPayload = errors.New("empty payload")

// Config controls decoder behavior.
type Config struct {
	BuyKeywords  []string
	SellKeywords []string
	// RequireOnCurveMint rejects mints that are not ed25519 points.
	RequireOnCurveMint bool
}

// DefaultConfig returns the default decoder configuration.
func DefaultConfig() Config {
	return Config{
		BuyKeywords:  DefaultBuyKeywords,
		SellKeywords: DefaultSellKeywords,
	}
}

// Result holds everything decoded from one message.
type Result struct {
	Events   []*domain.TradeEvent
	Failures []*DecodeError
}

// Decoder decodes trade events. It is stateless and safe for concurrent use.
type Decoder struct {
	cfg Config
}

// New creates a Decoder.
func New(cfg Config) *Decoder {
	if len(cfg.BuyKeywords) == 0 {
		cfg.BuyKeywords = DefaultBuyKeywords
	}
	if len(cfg.SellKeywords) == 0 {
		cfg.SellKeywords = DefaultSellKeywords
	}
	return &Decoder{cfg: cfg}
}

// DecodeMessage decodes every marker line of a message independently.
func (d *Decoder) DecodeMessage(msg *domain.RawUpdateMessage) Result {
	if msg == nil || !msg.HasLogs() {
		return Result{}
	}
	return d.DecodeLogs(msg.Transaction.Logs, msg.Signature, msg.Slot)
}

// DecodeLogs decodes all marker lines in logs. Events are returned in log order.
func (d *Decoder) DecodeLogs(logs []string, signature string, slot uint64) Result {
	var res Result
	for i, line := range logs {
		payload, ok := strings.CutPrefix(line, DataPrefix)
		if !ok {
			continue
		}

		event, err := d.decodeLine(payload, logs, i)
		if err != nil {
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				decErr = &DecodeError{Kind: FailureCorruptPayload, Size: -1, LogIndex: i, Err: err}
			}
			res.Failures = append(res.Failures, decErr)
			continue
		}

		event.Signature = signature
		event.Slot = slot
		res.Events = append(res.Events, event)
	}
	return res
}

// decodeLine decodes one marker payload. A panic inside is reported as a corrupt payload.
func (d *Decoder) decodeLine(payload string, logs []string, logIndex int) (event *domain.TradeEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			event = nil
			err = &DecodeError{Kind: FailureCorruptPayload, Size: -1, LogIndex: logIndex, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	data, err := decodeBase64(strings.TrimSpace(payload))
	if err != nil {
		return nil, &DecodeError{Kind: FailureCorruptPayload, Size: -1, LogIndex: logIndex, Err: err}
	}
	return d.DecodeEvent(data, logs, logIndex)
}

// DecodeEvent decodes a raw event payload. Direction comes from logs only.
func (d *Decoder) DecodeEvent(data []byte, logs []string, logIndex int) (*domain.TradeEvent, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Kind: FailureCorruptPayload, Size: 0, LogIndex: logIndex, Err: errEmptyPayload}
	}

	layout, ok := layoutForSize(len(data))
	if !ok {
		return nil, &DecodeError{Kind: FailureWrongSize, Size: len(data), LogIndex: logIndex}
	}

	var event *domain.TradeEvent
	var err error
	switch layout {
	case domain.LayoutFull:
		event, err = d.decodeFull(data)
	case domain.LayoutCompact:
		event, err = d.decodeCompact(data)
	}
	if err != nil {
		return nil, &DecodeError{Kind: FailureInvalidAddress, Size: len(data), LogIndex: logIndex, Err: err}
	}

	event.Layout = layout
	event.EventIndex = logIndex
	event.Direction = InferDirection(logs, logIndex, d.cfg.BuyKeywords, d.cfg.SellKeywords)
	return event, nil
}

func (d *Decoder) decodeFull(data []byte) (*domain.TradeEvent, error) {
	mint, err := d.mintAddress(readAddress(data, fullMintOffset))
	if err != nil {
		return nil, err
	}

	event := &domain.TradeEvent{
		Mint:                 mint,
		SolAmount:            readUint64LE(data, fullSolAmountOffset),
		TokenAmount:          readUint64LE(data, fullTokenAmountOffset),
		VirtualSolReserves:   readUint64LE(data, fullVirtualSolOffset),
		VirtualTokenReserves: readUint64LE(data, fullVirtualTokenOffset),
	}

	// A malformed user address does not invalidate the trade.
	if user, err := solana.EncodeAddress(readAddress(data, fullUserOffset)); err == nil {
		event.User = user
	}

	if ts := int64(readUint64LE(data, fullTimestampOffset)); ts > 0 {
		event.Timestamp = &ts
	}

	return event, nil
}

func (d *Decoder) decodeCompact(data []byte) (*domain.TradeEvent, error) {
	mint, err := d.mintAddress(readAddress(data, compactMintOffset))
	if err != nil {
		return nil, err
	}

	return &domain.TradeEvent{
		Mint:                 mint,
		VirtualSolReserves:   readUint64LE(data, compactVirtualSolOffset),
		VirtualTokenReserves: readUint64LE(data, compactVirtualTokenOffset),
	}, nil
}

func (d *Decoder) mintAddress(raw []byte) (string, error) {
	mint, err := solana.EncodeAddress(raw)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	if d.cfg.RequireOnCurveMint && !solana.IsOnCurve(raw) {
		return "", fmt.Errorf("mint %s is off curve", mint)
	}
	return mint, nil
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, errEmptyPayload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("decode base64: %w", err)
}
