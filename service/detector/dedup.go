package detector

// DedupState is the dedup cursor of one watched wallet. It is owned by a
// single detection loop and is not safe for concurrent use; loops watching
// different wallets each need their own instance.
type DedupState struct {
	lastSeen     string
	hasLastSeen  bool
	processedAny bool
}

// NewDedupState returns an empty cursor.
func NewDedupState() *DedupState {
	return &DedupState{}
}

// ResumeDedupState returns a cursor pre-seeded with lastSeen. The first cycle
// still processes the head transaction even when it equals lastSeen.
func ResumeDedupState(lastSeen string) *DedupState {
	if lastSeen == "" {
		return NewDedupState()
	}
	return &DedupState{lastSeen: lastSeen, hasLastSeen: true}
}

// ShouldProcess reports whether signature is new to this cursor.
func (s *DedupState) ShouldProcess(signature string) bool {
	if !s.processedAny || !s.hasLastSeen {
		return true
	}
	return signature != s.lastSeen
}

// Advance records signature as processed.
func (s *DedupState) Advance(signature string) {
	s.lastSeen = signature
	s.hasLastSeen = true
	s.processedAny = true
}

// LastSeen returns the last processed signature, if any.
func (s *DedupState) LastSeen() (string, bool) {
	return s.lastSeen, s.hasLastSeen
}

// HasProcessedAny reports whether Advance has been called.
func (s *DedupState) HasProcessedAny() bool {
	return s.processedAny
}
