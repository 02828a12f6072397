package message

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/xtxerr/tlmarchive/internal/errors"
)

// Float is a float64 whose JSON form also accepts the strings "NaN",
// "Infinity" and "-Infinity", which plain JSON numbers cannot express.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*f = Float(math.NaN())
		case "Infinity", "+Infinity":
			*f = Float(math.Inf(1))
		case "-Infinity":
			*f = Float(math.Inf(-1))
		default:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float %q", s)
			}
			*f = Float(v)
		}
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// New returns a pointer to a zero message of the type carried on topic.
func New(topic string) (any, error) {
	switch topic {
	case TopicChannelValue, TopicHeaderChannelValue, TopicMonitorChannelValue, TopicSseChannelValue:
		return new(ChannelValue), nil
	case TopicEvr, TopicSseEvr:
		return new(Evr), nil
	case TopicPacket, TopicSsePacket:
		return new(Packet), nil
	case TopicFrame:
		return new(Frame), nil
	case TopicCommand:
		return new(Command), nil
	case TopicLog:
		return new(Log), nil
	case TopicProduct:
		return new(Product), nil
	case TopicCfdpIndication:
		return new(CfdpIndication), nil
	case TopicCfdpPdu:
		return new(CfdpPdu), nil
	default:
		return nil, fmt.Errorf("unknown topic %q: %w", topic, errors.ErrValidation)
	}
}

// Decode parses a JSON payload into the message type carried on topic.
// The result is a pointer, e.g. *ChannelValue.
func Decode(topic string, payload []byte) (any, error) {
	msg, err := New(topic)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, errors.Wrapf(err, "decode %s", topic)
	}
	return msg, nil
}

// Topics returns every known topic.
func Topics() []string {
	return []string{
		TopicChannelValue, TopicHeaderChannelValue, TopicMonitorChannelValue, TopicSseChannelValue,
		TopicEvr, TopicSseEvr, TopicPacket, TopicSsePacket, TopicFrame,
		TopicCommand, TopicLog, TopicProduct, TopicCfdpIndication, TopicCfdpPdu,
	}
}
