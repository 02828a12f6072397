package message

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/xtxerr/tlmarchive/internal/errors"
)

func TestFloat_JSON(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{`1.5`, 1.5},
		{`"NaN"`, math.NaN()},
		{`"Infinity"`, math.Inf(1)},
		{`"-Infinity"`, math.Inf(-1)},
		{`"2.25"`, 2.25},
	}

	for _, tt := range tests {
		var f Float
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		got := float64(f)
		if math.IsNaN(tt.want) {
			if !math.IsNaN(got) {
				t.Errorf("%s: expected NaN, got %v", tt.in, got)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.in, got, tt.want)
		}
	}

	var bad Float
	if err := json.Unmarshal([]byte(`"fast"`), &bad); err == nil {
		t.Error("expected error for non-numeric string")
	}

	out, err := json.Marshal(Float(math.Inf(-1)))
	if err != nil || string(out) != `"-Infinity"` {
		t.Errorf("marshal -Inf = %s, %v", out, err)
	}
}

func TestDecode(t *testing.T) {
	payload := []byte(`{"channel_id":"A-0001","type":"FLOAT","dn_float":"NaN","ert":"2026-03-01T12:00:00Z","dss_id":14}`)

	msg, err := Decode(TopicHeaderChannelValue, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cv, ok := msg.(*ChannelValue)
	if !ok {
		t.Fatalf("expected *ChannelValue, got %T", msg)
	}
	if cv.ChannelID != "A-0001" || cv.DSSID != 14 || !math.IsNaN(float64(cv.DNFloat)) {
		t.Errorf("decoded %+v", cv)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode("tlm.unknown", []byte(`{}`)); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("unknown topic: expected ErrValidation, got %v", err)
	}
	if _, err := Decode(TopicEvr, []byte(`{"id":`)); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestTopics_AllDecodable(t *testing.T) {
	for _, topic := range Topics() {
		if _, err := New(topic); err != nil {
			t.Errorf("New(%s): %v", topic, err)
		}
	}
}

func TestChannelValue_Value(t *testing.T) {
	tests := []struct {
		cv   ChannelValue
		want float64
		ok   bool
	}{
		{ChannelValue{Type: ChannelSignedInt, DNInt: -4}, -4, true},
		{ChannelValue{Type: ChannelDigital, DNUint: 7}, 7, true},
		{ChannelValue{Type: ChannelFloat, DNFloat: 2.5}, 2.5, true},
		{ChannelValue{Type: ChannelASCII, DNString: "x"}, 0, false},
	}

	for _, tt := range tests {
		got, ok := tt.cv.Value()
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: Value() = %v, %v", tt.cv.Type, got, ok)
		}
	}
}
