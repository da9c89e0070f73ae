// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"testing"
)

func TestMemorySignalerOfferAnswerRoundTrip(t *testing.T) {
	signaler := NewMemorySignaler()
	ctx := context.Background()

	if err := signaler.PublishOffer(ctx, "alpha", "beta", "offer-sdp"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}

	offers, err := signaler.PollOffers(ctx, "beta")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 1 || offers[0].PeerID != "alpha" || offers[0].SDP != "offer-sdp" {
		t.Fatalf("offers = %+v, want one offer-sdp from alpha", offers)
	}

	// The offer is not directed at gamma and must not reach it.
	offers, err = signaler.PollOffers(ctx, "gamma")
	if err != nil {
		t.Fatalf("PollOffers(gamma): %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("gamma polled %d offers, want 0", len(offers))
	}

	if err := signaler.PublishAnswer(ctx, "alpha", "beta", "answer-sdp"); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}
	answers, err := signaler.PollAnswers(ctx, "alpha")
	if err != nil {
		t.Fatalf("PollAnswers: %v", err)
	}
	if len(answers) != 1 || answers[0].PeerID != "beta" || answers[0].SDP != "answer-sdp" {
		t.Fatalf("answers = %+v, want one answer-sdp from beta", answers)
	}
}

func TestMemorySignalerSuppressesSeenMessages(t *testing.T) {
	signaler := NewMemorySignaler()
	ctx := context.Background()

	if err := signaler.PublishOffer(ctx, "alpha", "beta", "first"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	if _, err := signaler.PollOffers(ctx, "beta"); err != nil {
		t.Fatalf("PollOffers: %v", err)
	}

	// Same message again: already consumed.
	offers, err := signaler.PollOffers(ctx, "beta")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("re-poll returned %d offers, want 0", len(offers))
	}

	// A newer offer for the same pair (renegotiation) is delivered.
	if err := signaler.PublishOffer(ctx, "alpha", "beta", "second"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	offers, err = signaler.PollOffers(ctx, "beta")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 1 || offers[0].SDP != "second" {
		t.Errorf("offers = %+v, want the superseding offer", offers)
	}
}
