package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

// Kind tags a BookMessage as a full replace or an incremental delta.
type Kind uint8

const (
	KindSnapshot Kind = iota + 1
	KindDelta
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// BookMessage is the normalized feed message after schema validation.
//
//	{ "type": "snapshot" | "delta",
//	  "bids": [[price, quantity], ...],
//	  "asks": [[price, quantity], ...],
//	  "sequence": integer,
//	  "timestamp": integer (epoch ms) }
type BookMessage struct {
	Kind Kind
	Bids []domain.PriceLevel
	Asks []domain.PriceLevel

	// Sequence is meaningful only when HasSequence is true. Full-book L2
	// streams omit it and the feed assigns a local sequence instead.
	Sequence    int64
	HasSequence bool
	TimestampMs int64

	Exchange string
	Symbol   string

	// Epoch identifies the connection that carried the message. It grows by
	// one per successful connect, so a source that restarts its numbering
	// after a reconnect is distinguishable from a late message.
	Epoch uint64

	ReceivedAt time.Time
}

type wireMessage struct {
	Type      string              `json:"type"`
	Bids      [][]json.RawMessage `json:"bids"`
	Asks      [][]json.RawMessage `json:"asks"`
	Sequence  *int64              `json:"sequence"`
	Timestamp json.RawMessage     `json:"timestamp"`
	Exchange  string              `json:"exchange"`
	Symbol    string              `json:"symbol"`
}

// Decode parses and validates a raw payload into msg. msg is reset first,
// so pooled messages can be reused. Every failure is a *domain.ProtocolError.
func Decode(data []byte, msg *BookMessage) error {
	msg.reset()

	var w wireMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return domain.NewProtocolError("decode", err)
	}

	switch strings.ToLower(w.Type) {
	case "snapshot":
		msg.Kind = KindSnapshot
	case "delta", "update":
		msg.Kind = KindDelta
	case "":
		// L2 streams that push the whole book each tick carry no type.
		if len(w.Bids) == 0 || len(w.Asks) == 0 {
			return domain.NewProtocolError("missing type", nil)
		}
		msg.Kind = KindSnapshot
	default:
		return domain.NewProtocolError(fmt.Sprintf("unknown type %q", w.Type), nil)
	}

	var err error
	if msg.Bids, err = decodeLevels(w.Bids, msg.Bids, msg.Kind); err != nil {
		return err
	}
	if msg.Asks, err = decodeLevels(w.Asks, msg.Asks, msg.Kind); err != nil {
		return err
	}
	if msg.Kind == KindDelta && len(msg.Bids) == 0 && len(msg.Asks) == 0 {
		return domain.NewProtocolError("empty delta", nil)
	}

	if w.Sequence != nil {
		if *w.Sequence < 0 {
			return domain.NewProtocolError("negative sequence", nil)
		}
		msg.Sequence = *w.Sequence
		msg.HasSequence = true
	}

	if msg.TimestampMs, err = decodeTimestamp(w.Timestamp); err != nil {
		return err
	}
	msg.Exchange = w.Exchange
	msg.Symbol = w.Symbol
	return nil
}

func decodeLevels(raw [][]json.RawMessage, dst []domain.PriceLevel, kind Kind) ([]domain.PriceLevel, error) {
	for i, pair := range raw {
		// Some venues append extra fields (order count, liquidated orders).
		if len(pair) < 2 {
			return dst, domain.NewProtocolError(fmt.Sprintf("level %d: want [price, quantity]", i), nil)
		}
		price, err := decodeNumber(pair[0])
		if err != nil {
			return dst, domain.NewProtocolError(fmt.Sprintf("level %d price", i), err)
		}
		qty, err := decodeNumber(pair[1])
		if err != nil {
			return dst, domain.NewProtocolError(fmt.Sprintf("level %d quantity", i), err)
		}
		if !(price > 0) {
			return dst, domain.NewProtocolError(fmt.Sprintf("level %d: non-positive price", i), nil)
		}
		if qty < 0 {
			return dst, domain.NewProtocolError(fmt.Sprintf("level %d: negative quantity", i), nil)
		}
		if kind == KindSnapshot && qty == 0 {
			continue
		}
		dst = append(dst, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return dst, nil
}

// decodeNumber accepts a JSON number or a numeric string ("65000.1").
func decodeNumber(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		s = str
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("not finite: %s", s)
	}
	return f, nil
}

// decodeTimestamp accepts epoch milliseconds or an RFC3339 string.
func decodeTimestamp(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, domain.NewProtocolError("timestamp", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, domain.NewProtocolError("timestamp", err)
		}
		return ts.UnixMilli(), nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return 0, domain.NewProtocolError("timestamp", err)
	}
	return ms, nil
}

func (m *BookMessage) reset() {
	m.Kind = 0
	m.Bids = m.Bids[:0]
	m.Asks = m.Asks[:0]
	m.Sequence = 0
	m.HasSequence = false
	m.TimestampMs = 0
	m.Exchange = ""
	m.Symbol = ""
	m.Epoch = 0
	m.ReceivedAt = time.Time{}
}
