package types

import "testing"

func TestIdentifier_StringRoundTrip(t *testing.T) {
	for _, id := range AllIdentifiers() {
		got, err := ParseIdentifier(id.String())
		if err != nil {
			t.Fatalf("ParseIdentifier(%q): %v", id.String(), err)
		}
		if got != id {
			t.Errorf("ParseIdentifier(%q) = %v, want %v", id.String(), got, id)
		}
	}
}

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		want    Identifier
		wantErr bool
	}{
		{"evr", Evr, false},
		{"Channel-Value", ChannelValue, false},
		{" SSE_PACKET ", SsePacket, false},
		{"cfdp_pdu", CfdpPdu, false},
		{"bogus", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIdentifier(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentifier_Invalid(t *testing.T) {
	id := Identifier(99)
	if id.Valid() {
		t.Error("99 should not be valid")
	}
	if id.String() != "unknown(99)" {
		t.Errorf("String() = %q", id.String())
	}
	if _, err := id.MarshalText(); err == nil {
		t.Error("MarshalText should fail for unknown identifier")
	}
}

func TestAllIdentifiers(t *testing.T) {
	ids := AllIdentifiers()
	if len(ids) != 18 {
		t.Fatalf("expected 18 identifiers, got %d", len(ids))
	}
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id.String()] {
			t.Errorf("duplicate name %q", id.String())
		}
		seen[id.String()] = true
	}
}

func TestSession_Bounds(t *testing.T) {
	open := &Session{}
	if !open.StationAllowed(14) || !open.VCIDAllowed(3) {
		t.Error("empty bounds should allow everything")
	}

	s := &Session{Stations: []int32{14, 43}, VCIDs: []int32{0, 1}}
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"station in", s.StationAllowed(43), true},
		{"station out", s.StationAllowed(63), false},
		{"vcid in", s.VCIDAllowed(1), true},
		{"vcid out", s.VCIDAllowed(7), false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}
