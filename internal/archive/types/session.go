package types

import "slices"

// Session identifies the ground session records are archived under and
// carries the station and VCID bounds used for mismatch warnings.
type Session struct {
	ID       int64
	HostID   int32
	Host     string
	Fragment int32

	// Stations lists the allowed DSS station ids. Empty allows any.
	Stations []int32
	// VCIDs lists the allowed virtual channel ids. Empty allows any.
	VCIDs []int32
}

// StationAllowed reports whether dss is inside the session bounds.
func (s *Session) StationAllowed(dss int32) bool {
	return len(s.Stations) == 0 || slices.Contains(s.Stations, dss)
}

// VCIDAllowed reports whether vcid is inside the session bounds.
func (s *Session) VCIDAllowed(vcid int32) bool {
	return len(s.VCIDs) == 0 || slices.Contains(s.VCIDs, vcid)
}
