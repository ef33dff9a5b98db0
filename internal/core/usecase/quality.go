package usecase

// estimateFusionQuality is twice the Jaccard overlap of the two branch id-sets, clamped to [0,1].
// It is a diagnostic signal and never feeds back into ranking.
func estimateFusionQuality(lexicalIDs, vectorIDs []string, finalHits int) float64 {
	if finalHits == 0 {
		return 0
	}

	lexicalSet := make(map[string]struct{}, len(lexicalIDs))
	for _, id := range lexicalIDs {
		lexicalSet[id] = struct{}{}
	}
	union := make(map[string]struct{}, len(lexicalIDs)+len(vectorIDs))
	for id := range lexicalSet {
		union[id] = struct{}{}
	}

	intersection := 0
	seenVector := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		if _, dup := seenVector[id]; dup {
			continue
		}
		seenVector[id] = struct{}{}
		if _, ok := lexicalSet[id]; ok {
			intersection++
		}
		union[id] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}

	score := 2 * float64(intersection) / float64(len(union))
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
