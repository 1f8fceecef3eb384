package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Decode parses a raw stream frame into an Event.
func Decode(data []byte, receivedAt time.Time) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return FromEnvelope(env, receivedAt)
}

// FromEnvelope decodes an already-parsed envelope.
func FromEnvelope(env Envelope, receivedAt time.Time) (Event, error) {
	if env.Event == "" {
		return Event{}, ErrMissingEvent
	}
	if IsLifecycle(env.Event) {
		return Event{}, fmt.Errorf("%w: %s", ErrReservedChannel, env.Event)
	}

	payload, err := DecodePayload(env.Event, env.Data)
	if err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", env.Event, err)
	}

	return Event{
		Channel:    env.Event,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}, nil
}

// DecodePayload decodes data into the payload type registered for channel.
func DecodePayload(channel string, data json.RawMessage) (Payload, error) {
	switch channel {
	case ChannelPriceUpdate:
		return decodeInto[PriceUpdate](data)
	case ChannelMarketOverview:
		return decodeInto[MarketOverview](data)
	case ChannelOptionChain:
		return decodeInto[OptionChainUpdate](data)
	case ChannelInsiderTrade:
		return decodeInto[InsiderTrade](data)
	case ChannelBulkDeal, ChannelBlockDeal:
		var d Deal
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		d.Kind = DealBulk
		if channel == ChannelBlockDeal {
			d.Kind = DealBlock
		}
		return d, nil
	case ChannelSignalAlert:
		return decodeInto[SignalAlert](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Raw: raw}, nil
	}
}

func decodeInto[T Payload](data json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// IsLifecycle reports whether channel is one of the locally synthesized channels.
func IsLifecycle(channel string) bool {
	switch channel {
	case ChannelConnect, ChannelDisconnect, ChannelError:
		return true
	}
	return false
}

// Encode renders an event back into its wire envelope.
func Encode(ev Event) ([]byte, error) {
	data, err := MarshalPayload(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: ev.Channel, Data: data})
}

// MarshalPayload renders a payload as JSON.
func MarshalPayload(p Payload) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case Unknown:
		if len(v.Raw) == 0 {
			return json.RawMessage("null"), nil
		}
		return v.Raw, nil
	case TransportError:
		msg := ""
		if v.Err != nil {
			msg = v.Err.Error()
		}
		return json.Marshal(map[string]string{"error": msg})
	case Disconnected:
		return json.Marshal(map[string]string{"reason": v.Reason})
	case Connected:
		return json.Marshal(map[string]string{"sessionId": v.SessionID})
	default:
		return json.Marshal(v)
	}
}

// KeyMarket is the cache key used for payloads with no per-symbol identity.
const KeyMarket = "market"

// Key returns the natural identity of an event within its channel.
func Key(ev Event) string {
	switch p := ev.Payload.(type) {
	case PriceUpdate:
		return p.Symbol
	case OptionChainUpdate:
		if p.Expiry != "" {
			return p.Symbol + "@" + p.Expiry
		}
		return p.Symbol
	case InsiderTrade:
		return p.Symbol
	case Deal:
		return p.Symbol
	case SignalAlert:
		return p.Symbol
	default:
		return KeyMarket
	}
}
