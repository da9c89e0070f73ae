// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "github.com/pion/webrtc/v4"

// candidatePairsFromReport flattens a pion stats report into the
// candidate-pair rows the Transport interface exposes. Candidate
// entries are indexed first so each pair can be joined with the types
// of its two ends; pairs referencing candidates missing from the
// report keep a zero CandidateType.
func candidatePairsFromReport(report webrtc.StatsReport) []CandidatePair {
	candidateTypes := make(map[string]CandidateType)
	for _, stat := range report {
		candidate, ok := stat.(webrtc.ICECandidateStats)
		if !ok {
			continue
		}
		candidateTypes[candidate.ID] = candidateTypeFromICE(candidate.CandidateType)
	}

	var pairs []CandidatePair
	for _, stat := range report {
		pair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok {
			continue
		}
		pairs = append(pairs, CandidatePair{
			State:      pairStateFromICE(pair.State),
			LocalType:  candidateTypes[pair.LocalCandidateID],
			RemoteType: candidateTypes[pair.RemoteCandidateID],
		})
	}
	return pairs
}

func candidateTypeFromICE(iceType webrtc.ICECandidateType) CandidateType {
	switch iceType {
	case webrtc.ICECandidateTypeHost:
		return CandidateHost
	case webrtc.ICECandidateTypeSrflx:
		return CandidateServerReflexive
	case webrtc.ICECandidateTypePrflx:
		return CandidatePeerReflexive
	case webrtc.ICECandidateTypeRelay:
		return CandidateRelay
	default:
		return CandidateType(iceType.String())
	}
}

func pairStateFromICE(state webrtc.StatsICECandidatePairState) PairState {
	switch state {
	case webrtc.StatsICECandidatePairStateWaiting:
		return PairWaiting
	case webrtc.StatsICECandidatePairStateInProgress:
		return PairInProgress
	case webrtc.StatsICECandidatePairStateSucceeded:
		return PairSucceeded
	case webrtc.StatsICECandidatePairStateFailed:
		return PairFailed
	default:
		return PairState(state)
	}
}
