package query

// hybridEvidence combines community reports with the local subgraph
// evidence. Reports lead so the model frames the answer before reading the
// detailed passages; duplicate pieces are dropped.
func (e *Engine) hybridEvidence(question string) []string {
	global := e.globalEvidence(question)
	local := e.localEvidence(question)

	seen := make(map[string]struct{}, len(global)+len(local))
	var evidence []string
	for _, piece := range append(global, local...) {
		if _, ok := seen[piece]; ok {
			continue
		}
		seen[piece] = struct{}{}
		evidence = append(evidence, piece)
	}
	return evidence
}
