package strategy

// SelectChampion maintains the sticky champion assignment for an active
// champion band. The incumbent champion is retained while it remains
// ranked and healthy, even if a more efficient device has appeared since
// it was promoted. A failed champion is replaced by the next-ranked
// healthy device; nil means no champion is available and all devices
// should be planned off.
//
// ranking comes from Ranker.Rank over the enrolled devices, so a stale
// device is already absent from it.
func SelectChampion(incumbent *string, ranking []string, healthy func(string) bool) *string {
	if incumbent != nil {
		for _, id := range ranking {
			if id == *incumbent && healthy(id) {
				return incumbent
			}
		}
	}

	for _, id := range ranking {
		if incumbent != nil && id == *incumbent {
			continue
		}
		if healthy(id) {
			v := id
			return &v
		}
	}
	return nil
}
