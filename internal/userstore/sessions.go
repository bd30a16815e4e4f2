package userstore

import "sync"

// Sessions holds per-user state that lives only as long as the process,
// such as icon mode.
type Sessions struct {
	icon sync.Map
}

// SetIconMode turns icon mode on or off for userID.
func (s *Sessions) SetIconMode(userID string, on bool) {
	if on {
		s.icon.Store(userID, struct{}{})
		return
	}
	s.icon.Delete(userID)
}

// IconMode reports whether the next conversion of userID produces an icon.
func (s *Sessions) IconMode(userID string) bool {
	_, ok := s.icon.Load(userID)
	return ok
}
