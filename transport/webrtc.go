// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/openparley/parley/lib/codec"
)

// Compile-time interface check.
var _ Transport = (*WebRTCTransport)(nil)

// signalingPollInterval is how often the transport polls for inbound
// signaling offers and answers.
const signalingPollInterval = 2 * time.Second

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// answerTimeout is the maximum time to wait for an SDP answer after
// publishing an offer.
const answerTimeout = 30 * time.Second

// channelOpenTimeout is the maximum time to wait for a data channel to
// reach the open state.
const channelOpenTimeout = 10 * time.Second

// metaChannelLabel is the reserved data channel for stream metadata.
// It is created at connection establishment, which also forces pion to
// include a data channel section in the initial SDP.
const metaChannelLabel = "parley.stream-meta"

// WebRTCConfig configures a WebRTCTransport.
type WebRTCConfig struct {
	// PeerID identifies this endpoint in signaling and to remote
	// peers. Required.
	PeerID string

	// Signaler exchanges SDP offers and answers. Required.
	Signaler Signaler

	// ICEServers is the STUN/TURN configuration for candidate
	// gathering. Empty means host candidates only, sufficient on one
	// machine or one LAN.
	ICEServers []webrtc.ICEServer

	// Logger receives transport diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// WebRTCTransport implements Transport over pion data channels and RTP
// tracks: one PeerConnection per remote peer, one data channel per
// logical channel name, media attached as tracks. Connection
// establishment uses vanilla ICE through the configured Signaler; when
// both sides dial simultaneously, the peer with the lexicographically
// smaller ID is the canonical offerer and the other side drops its
// attempt.
type WebRTCTransport struct {
	signaler Signaler
	localID  string
	logger   *slog.Logger

	configMu   sync.RWMutex
	iceServers []webrtc.ICEServer

	mu    sync.Mutex
	peers map[string]*peerLink

	handlerMu    sync.Mutex
	handlers     map[string]ReceiveHandler
	eventHandler PeerEventHandler

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// peerLink tracks the PeerConnection to one remote peer. The channels
// and senders maps are protected by peerLink.mu; membership in
// WebRTCTransport.peers is protected by WebRTCTransport.mu.
type peerLink struct {
	peerID      string
	pc          *webrtc.PeerConnection
	established chan struct{}
	joinedOnce  sync.Once
	leftOnce    sync.Once

	// answers carries SDP answers routed from the signaling poller to
	// whichever goroutine is waiting on this link's offer.
	answers chan string

	mu       sync.Mutex
	channels map[string]*webrtc.DataChannel
	senders  map[string][]*webrtc.RTPSender
	// remoteMeta and pendingTracks pair stream metadata (arriving on
	// the meta channel) with media (arriving via OnTrack), whichever
	// shows up first.
	remoteMeta    map[string]*StreamMetadata
	pendingTracks map[string][]*webrtc.TrackRemote
}

// NewWebRTCTransport creates a WebRTC transport. Callers must run
// [WebRTCTransport.Serve] for signaling to make progress.
func NewWebRTCTransport(cfg WebRTCConfig) (*WebRTCTransport, error) {
	if cfg.PeerID == "" {
		return nil, errors.New("transport: WebRTCConfig.PeerID is required")
	}
	if cfg.Signaler == nil {
		return nil, errors.New("transport: WebRTCConfig.Signaler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTCTransport{
		signaler:   cfg.Signaler,
		localID:    cfg.PeerID,
		logger:     logger,
		iceServers: cfg.ICEServers,
		peers:      make(map[string]*peerLink),
		handlers:   make(map[string]ReceiveHandler),
		ready:      make(chan struct{}),
		closed:     make(chan struct{}),
	}, nil
}

// PeerID returns this endpoint's ID.
func (t *WebRTCTransport) PeerID() string { return t.localID }

// Ready returns a channel closed once Serve has started the signaling
// poller. Callers can wait on it before dialing.
func (t *WebRTCTransport) Ready() <-chan struct{} { return t.ready }

// Serve runs the signaling poller, answering inbound offers and
// routing answers to pending outbound offers. Blocks until ctx is
// cancelled or Close is called.
func (t *WebRTCTransport) Serve(ctx context.Context) error {
	t.readyOnce.Do(func() { close(t.ready) })

	ticker := time.NewTicker(signalingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return nil
		case <-ticker.C:
			t.pollSignals(ctx)
		}
	}
}

// UpdateICEServers replaces the ICE configuration for new
// PeerConnections. Existing connections keep their configuration.
func (t *WebRTCTransport) UpdateICEServers(servers []webrtc.ICEServer) {
	t.configMu.Lock()
	defer t.configMu.Unlock()
	t.iceServers = servers
}

// Connect establishes (or reuses) the PeerConnection to a peer and
// waits for it to come up.
func (t *WebRTCTransport) Connect(ctx context.Context, peerID string) error {
	select {
	case <-t.closed:
		return net.ErrClosed
	default:
	}

	link, err := t.getOrCreateLink(ctx, peerID)
	if err != nil {
		return fmt.Errorf("establishing peer connection to %s: %w", peerID, err)
	}

	select {
	case <-link.established:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return net.ErrClosed
	}
}

// Send delivers payload on the named channel to one peer, or to every
// connected peer when peerID is empty.
func (t *WebRTCTransport) Send(ctx context.Context, channel string, payload []byte, peerID string) error {
	if channel == metaChannelLabel {
		return fmt.Errorf("transport: channel name %q is reserved", channel)
	}

	if peerID != "" {
		link, ok := t.establishedLink(peerID)
		if !ok {
			return fmt.Errorf("transport: peer %s is not connected", peerID)
		}
		return t.sendOnLink(ctx, link, channel, payload)
	}

	var errs []error
	for _, link := range t.establishedLinks() {
		if err := t.sendOnLink(ctx, link, channel, payload); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", link.peerID, err))
		}
	}
	return errors.Join(errs...)
}

// OnReceive registers the handler for a channel; last registration
// wins, nil removes.
func (t *WebRTCTransport) OnReceive(channel string, handler ReceiveHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	if handler == nil {
		delete(t.handlers, channel)
		return
	}
	t.handlers[channel] = handler
}

// OnPeerEvent registers the peer lifecycle handler; last registration
// wins.
func (t *WebRTCTransport) OnPeerEvent(handler PeerEventHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.eventHandler = handler
}

// AttachStream adds the stream's tracks to each target peer's
// PeerConnection, publishes the stream metadata on the meta channel,
// and renegotiates. stream must be a [*LocalStream].
func (t *WebRTCTransport) AttachStream(ctx context.Context, stream MediaStream, peers []string, metadata StreamMetadata) error {
	local, ok := stream.(*LocalStream)
	if !ok {
		return fmt.Errorf("transport: stream %T is not a *LocalStream", stream)
	}
	metadata.StreamID = local.StreamID()
	metaPayload, err := codec.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding stream metadata: %w", err)
	}

	var errs []error
	for _, link := range t.targetLinks(peers) {
		if err := t.attachToLink(ctx, link, local, metaPayload); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", link.peerID, err))
		}
	}
	return errors.Join(errs...)
}

func (t *WebRTCTransport) attachToLink(ctx context.Context, link *peerLink, stream *LocalStream, metaPayload []byte) error {
	// Metadata first: receivers pair it with the tracks that follow.
	dc, err := t.channelOnLink(ctx, link, metaChannelLabel)
	if err != nil {
		return fmt.Errorf("opening meta channel: %w", err)
	}
	if err := dc.Send(metaPayload); err != nil {
		return fmt.Errorf("sending stream metadata: %w", err)
	}

	var senders []*webrtc.RTPSender
	for _, track := range stream.Tracks() {
		sender, err := link.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("adding track %s: %w", track.ID(), err)
		}
		senders = append(senders, sender)
	}

	link.mu.Lock()
	link.senders[stream.StreamID()] = append(link.senders[stream.StreamID()], senders...)
	link.mu.Unlock()

	return t.renegotiate(ctx, link)
}

// DetachStream removes the stream's tracks from each target peer's
// PeerConnection and renegotiates. Detachment carries no metadata.
func (t *WebRTCTransport) DetachStream(stream MediaStream, peers []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
	defer cancel()

	var errs []error
	for _, link := range t.targetLinks(peers) {
		link.mu.Lock()
		senders := link.senders[stream.StreamID()]
		delete(link.senders, stream.StreamID())
		link.mu.Unlock()
		if len(senders) == 0 {
			continue
		}

		for _, sender := range senders {
			if err := link.pc.RemoveTrack(sender); err != nil {
				errs = append(errs, fmt.Errorf("peer %s: removing track: %w", link.peerID, err))
			}
		}
		if err := t.renegotiate(ctx, link); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", link.peerID, err))
		}
	}
	return errors.Join(errs...)
}

// ConnectedPeers returns the IDs of peers with established links.
func (t *WebRTCTransport) ConnectedPeers() []string {
	var peers []string
	for _, link := range t.establishedLinks() {
		peers = append(peers, link.peerID)
	}
	return peers
}

// PeerStats returns candidate-pair statistics for the connection to
// one peer.
func (t *WebRTCTransport) PeerStats(_ context.Context, peerID string) ([]CandidatePair, error) {
	link, ok := t.establishedLink(peerID)
	if !ok {
		return nil, fmt.Errorf("transport: peer %s is not connected", peerID)
	}
	return candidatePairsFromReport(link.pc.GetStats()), nil
}

// Close shuts down every PeerConnection and stops the poller.
// Idempotent.
func (t *WebRTCTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })

	t.mu.Lock()
	defer t.mu.Unlock()
	for peerID, link := range t.peers {
		link.pc.Close()
		delete(t.peers, peerID)
	}
	return nil
}

// getOrCreateLink returns the link to a peer, dialing a new
// PeerConnection if none exists. Concurrent callers for the same peer
// find the map entry and wait on link.established instead of starting
// duplicate signaling.
func (t *WebRTCTransport) getOrCreateLink(ctx context.Context, peerID string) (*peerLink, error) {
	t.mu.Lock()
	if link, ok := t.peers[peerID]; ok {
		state := link.pc.ICEConnectionState()
		if state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed {
			t.mu.Unlock()
			return link, nil
		}
		// Dead connection. Tear down and re-dial.
		link.pc.Close()
		delete(t.peers, peerID)
	}

	link, err := t.newLink(peerID)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.peers[peerID] = link
	t.mu.Unlock()

	if err := t.dial(ctx, link); err != nil {
		t.mu.Lock()
		if current, ok := t.peers[peerID]; ok && current == link {
			delete(t.peers, peerID)
		}
		t.mu.Unlock()
		link.pc.Close()
		return nil, err
	}
	return link, nil
}

// newLink creates a PeerConnection and wires its handlers. Caller
// holds t.mu; the handlers themselves never take it.
func (t *WebRTCTransport) newLink(peerID string) (*peerLink, error) {
	pc, err := t.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	link := &peerLink{
		peerID:        peerID,
		pc:            pc,
		established:   make(chan struct{}),
		answers:       make(chan string, 1),
		channels:      make(map[string]*webrtc.DataChannel),
		senders:       make(map[string][]*webrtc.RTPSender),
		remoteMeta:    make(map[string]*StreamMetadata),
		pendingTracks: make(map[string][]*webrtc.TrackRemote),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.handleInboundChannel(link, dc)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.handleInboundTrack(link, track)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.handleICEStateChange(link, state)
	})

	return link, nil
}

// dial runs outbound vanilla-ICE signaling for a freshly created link.
func (t *WebRTCTransport) dial(ctx context.Context, link *peerLink) error {
	// The meta channel doubles as the SDP trigger: without at least
	// one channel, pion omits the data channel section entirely.
	if _, err := t.createChannel(link, metaChannelLabel); err != nil {
		return fmt.Errorf("creating meta channel: %w", err)
	}

	offerSDP, err := t.localDescription(ctx, link.pc, false)
	if err != nil {
		return err
	}
	if err := t.signaler.PublishOffer(ctx, t.localID, link.peerID, offerSDP); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	t.logger.Info("offer published", "peer", link.peerID)

	answerSDP, err := t.waitForAnswer(ctx, link)
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %s: %w", link.peerID, err)
	}
	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	t.logger.Info("outbound connection signaled", "peer", link.peerID)
	return nil
}

// localDescription creates the local offer or answer, waits for ICE
// gathering to complete, and returns the full SDP.
func (t *WebRTCTransport) localDescription(ctx context.Context, pc *webrtc.PeerConnection, answer bool) (string, error) {
	var desc webrtc.SessionDescription
	var err error
	if answer {
		desc, err = pc.CreateAnswer(nil)
	} else {
		desc, err = pc.CreateOffer(nil)
	}
	if err != nil {
		return "", fmt.Errorf("creating SDP: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return pc.LocalDescription().SDP, nil
}

// waitForAnswer blocks until the signaling poller routes an answer to
// this link.
func (t *WebRTCTransport) waitForAnswer(ctx context.Context, link *peerLink) (string, error) {
	select {
	case sdp := <-link.answers:
		return sdp, nil
	case <-time.After(answerTimeout):
		return "", fmt.Errorf("timed out after %s", answerTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.closed:
		return "", net.ErrClosed
	}
}

// pollSignals drains pending offers and answers from the signaler.
func (t *WebRTCTransport) pollSignals(ctx context.Context) {
	answers, err := t.signaler.PollAnswers(ctx, t.localID)
	if err != nil {
		t.logger.Warn("polling for SDP answers failed", "error", err)
	} else {
		for _, answer := range answers {
			t.routeAnswer(answer)
		}
	}

	offers, err := t.signaler.PollOffers(ctx, t.localID)
	if err != nil {
		t.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}
	for _, offer := range offers {
		t.handleOffer(ctx, offer)
	}
}

// routeAnswer hands a polled answer to the link waiting for it.
func (t *WebRTCTransport) routeAnswer(answer SignalMessage) {
	t.mu.Lock()
	link, ok := t.peers[answer.PeerID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("answer for unknown peer dropped", "peer", answer.PeerID)
		return
	}
	select {
	case link.answers <- answer.SDP:
	default:
		t.logger.Debug("answer dropped, no waiter", "peer", answer.PeerID)
	}
}

// handleOffer answers an inbound SDP offer: a new connection, a
// renegotiation on an established link, or a dial race resolved by the
// canonical-offerer rule.
func (t *WebRTCTransport) handleOffer(ctx context.Context, offer SignalMessage) {
	t.mu.Lock()
	existing, hasExisting := t.peers[offer.PeerID]
	t.mu.Unlock()

	if hasExisting {
		state := existing.pc.ICEConnectionState()
		switch {
		case state == webrtc.ICEConnectionStateConnected || state == webrtc.ICEConnectionStateCompleted:
			// Established link: this is a renegotiation offer
			// (typically a track being attached or detached).
			if err := t.answerRenegotiation(ctx, existing, offer.SDP); err != nil {
				t.logger.Error("renegotiation failed", "peer", offer.PeerID, "error", err)
			}
			return
		case state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed:
			// Dial race: both sides offered at once. The smaller ID is
			// the canonical offerer; the other side yields.
			if offer.PeerID > t.localID {
				t.logger.Debug("ignoring offer, we are the canonical offerer", "peer", offer.PeerID)
				return
			}
			t.removeLink(existing)
			existing.pc.Close()
		default:
			// Dead link. Clean up and answer as a fresh connection.
			t.removeLink(existing)
			existing.pc.Close()
		}
	}

	if err := t.answerOffer(ctx, offer); err != nil {
		t.logger.Error("answering offer failed", "peer", offer.PeerID, "error", err)
	}
}

// answerOffer builds a PeerConnection for an inbound offer and
// publishes the answer.
func (t *WebRTCTransport) answerOffer(ctx context.Context, offer SignalMessage) error {
	t.mu.Lock()
	link, err := t.newLink(offer.PeerID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.peers[offer.PeerID] = link
	t.mu.Unlock()

	fail := func(err error) error {
		t.removeLink(link)
		link.pc.Close()
		return err
	}

	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		return fail(fmt.Errorf("setting remote description: %w", err))
	}

	answerSDP, err := t.localDescription(ctx, link.pc, true)
	if err != nil {
		return fail(err)
	}
	if err := t.signaler.PublishAnswer(ctx, offer.PeerID, t.localID, answerSDP); err != nil {
		return fail(fmt.Errorf("publishing SDP answer: %w", err))
	}

	t.logger.Info("inbound connection answered", "peer", offer.PeerID)
	return nil
}

// answerRenegotiation applies a renegotiation offer to an established
// link and publishes the answer.
func (t *WebRTCTransport) answerRenegotiation(ctx context.Context, link *peerLink, sdp string) error {
	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("setting renegotiation offer: %w", err)
	}
	answerSDP, err := t.localDescription(ctx, link.pc, true)
	if err != nil {
		return err
	}
	if err := t.signaler.PublishAnswer(ctx, link.peerID, t.localID, answerSDP); err != nil {
		return fmt.Errorf("publishing renegotiation answer: %w", err)
	}
	return nil
}

// renegotiate publishes a fresh offer for an established link after a
// track change and applies the answer. Simultaneous renegotiation from
// both sides is not resolved here; attach operations are serialized by
// the stream coordinator precisely so this path sees one change at a
// time.
func (t *WebRTCTransport) renegotiate(ctx context.Context, link *peerLink) error {
	select {
	case <-link.established:
	default:
		// Not yet established: the pending initial exchange will carry
		// the current track set.
		return nil
	}

	offerSDP, err := t.localDescription(ctx, link.pc, false)
	if err != nil {
		return err
	}
	if err := t.signaler.PublishOffer(ctx, t.localID, link.peerID, offerSDP); err != nil {
		return fmt.Errorf("publishing renegotiation offer: %w", err)
	}
	answerSDP, err := t.waitForAnswer(ctx, link)
	if err != nil {
		return fmt.Errorf("waiting for renegotiation answer: %w", err)
	}
	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("setting renegotiation answer: %w", err)
	}
	return nil
}

// sendOnLink sends payload on the named data channel of one link,
// creating the channel on first use.
func (t *WebRTCTransport) sendOnLink(ctx context.Context, link *peerLink, channel string, payload []byte) error {
	dc, err := t.channelOnLink(ctx, link, channel)
	if err != nil {
		return err
	}
	if err := dc.Send(payload); err != nil {
		return fmt.Errorf("sending on channel %s: %w", channel, err)
	}
	return nil
}

// channelOnLink returns the link's open data channel with the given
// label, creating it and waiting for it to open if needed.
func (t *WebRTCTransport) channelOnLink(ctx context.Context, link *peerLink, label string) (*webrtc.DataChannel, error) {
	link.mu.Lock()
	dc, ok := link.channels[label]
	link.mu.Unlock()
	if !ok {
		var err error
		dc, err = t.createChannel(link, label)
		if err != nil {
			return nil, err
		}
	}

	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		return dc, nil
	}

	open := make(chan struct{})
	dc.OnOpen(func() { close(open) })
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		return dc, nil
	}
	select {
	case <-open:
		return dc, nil
	case <-time.After(channelOpenTimeout):
		return nil, fmt.Errorf("channel %s did not open within %s", label, channelOpenTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, net.ErrClosed
	}
}

// createChannel creates an outbound data channel on a link and wires
// inbound message dispatch for it.
func (t *WebRTCTransport) createChannel(link *peerLink, label string) (*webrtc.DataChannel, error) {
	ordered := true
	dc, err := link.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}
	t.wireChannel(link, dc)

	link.mu.Lock()
	link.channels[label] = dc
	link.mu.Unlock()
	return dc, nil
}

// handleInboundChannel registers a remotely created data channel for
// dispatch. The remote side's channel is reused for our own sends on
// the same label if we have not created one ourselves.
func (t *WebRTCTransport) handleInboundChannel(link *peerLink, dc *webrtc.DataChannel) {
	t.logger.Debug("inbound data channel", "peer", link.peerID, "label", dc.Label())
	t.wireChannel(link, dc)

	link.mu.Lock()
	if _, ok := link.channels[dc.Label()]; !ok {
		link.channels[dc.Label()] = dc
	}
	link.mu.Unlock()
}

// wireChannel attaches message dispatch to a data channel, local or
// remote.
func (t *WebRTCTransport) wireChannel(link *peerLink, dc *webrtc.DataChannel) {
	label := dc.Label()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if label == metaChannelLabel {
			t.handleStreamMetadata(link, msg.Data)
			return
		}
		t.handlerMu.Lock()
		handler := t.handlers[label]
		t.handlerMu.Unlock()
		if handler == nil {
			t.logger.Debug("message on channel without handler dropped",
				"peer", link.peerID, "channel", label)
			return
		}
		handler(link.peerID, msg.Data)
	})
}

// handleStreamMetadata records inbound stream metadata and fires the
// stream event if the media already arrived.
func (t *WebRTCTransport) handleStreamMetadata(link *peerLink, payload []byte) {
	var metadata StreamMetadata
	if err := codec.Unmarshal(payload, &metadata); err != nil {
		t.logger.Warn("undecodable stream metadata dropped", "peer", link.peerID, "error", err)
		return
	}

	link.mu.Lock()
	link.remoteMeta[metadata.StreamID] = &metadata
	tracks := link.pendingTracks[metadata.StreamID]
	delete(link.pendingTracks, metadata.StreamID)
	link.mu.Unlock()

	for _, track := range tracks {
		t.fireEvent(PeerEvent{
			Kind:     PeerStream,
			PeerID:   link.peerID,
			Stream:   &RemoteStream{id: metadata.StreamID, track: track},
			Metadata: &metadata,
		})
	}
}

// handleInboundTrack pairs an arriving remote track with its metadata,
// parking it until the metadata shows up. Metadata normally wins the
// race: it is sent before the tracks are attached, and the stream
// coordinator's quiescence delay gives it time to land.
func (t *WebRTCTransport) handleInboundTrack(link *peerLink, track *webrtc.TrackRemote) {
	streamID := track.StreamID()

	link.mu.Lock()
	metadata := link.remoteMeta[streamID]
	if metadata == nil {
		link.pendingTracks[streamID] = append(link.pendingTracks[streamID], track)
		link.mu.Unlock()
		t.logger.Debug("track arrived before metadata, parked", "peer", link.peerID, "stream", streamID)
		return
	}
	link.mu.Unlock()

	t.fireEvent(PeerEvent{
		Kind:     PeerStream,
		PeerID:   link.peerID,
		Stream:   &RemoteStream{id: streamID, track: track},
		Metadata: metadata,
	})
}

// handleICEStateChange manages the established signal and join/leave
// events for one link.
func (t *WebRTCTransport) handleICEStateChange(link *peerLink, state webrtc.ICEConnectionState) {
	t.logger.Info("ICE state change", "peer", link.peerID, "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		link.joinedOnce.Do(func() {
			close(link.established)
			t.fireEvent(PeerEvent{Kind: PeerJoined, PeerID: link.peerID})
		})

	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		t.removeLink(link)
		link.leftOnce.Do(func() {
			t.fireEvent(PeerEvent{Kind: PeerLeft, PeerID: link.peerID})
		})
	}
}

// removeLink deletes the link from the peer map if it is still the
// current entry.
func (t *WebRTCTransport) removeLink(link *peerLink) {
	t.mu.Lock()
	if current, ok := t.peers[link.peerID]; ok && current == link {
		delete(t.peers, link.peerID)
	}
	t.mu.Unlock()
}

func (t *WebRTCTransport) fireEvent(event PeerEvent) {
	t.handlerMu.Lock()
	handler := t.eventHandler
	t.handlerMu.Unlock()
	if handler != nil {
		handler(event)
	}
}

func (t *WebRTCTransport) establishedLink(peerID string) (*peerLink, bool) {
	t.mu.Lock()
	link, ok := t.peers[peerID]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-link.established:
		return link, true
	default:
		return nil, false
	}
}

func (t *WebRTCTransport) establishedLinks() []*peerLink {
	t.mu.Lock()
	all := make([]*peerLink, 0, len(t.peers))
	for _, link := range t.peers {
		all = append(all, link)
	}
	t.mu.Unlock()

	var established []*peerLink
	for _, link := range all {
		select {
		case <-link.established:
			established = append(established, link)
		default:
		}
	}
	return established
}

// targetLinks resolves an optional peer subset to established links,
// defaulting to all of them.
func (t *WebRTCTransport) targetLinks(peers []string) []*peerLink {
	if len(peers) == 0 {
		return t.establishedLinks()
	}
	var links []*peerLink
	for _, peerID := range peers {
		if link, ok := t.establishedLink(peerID); ok {
			links = append(links, link)
		}
	}
	return links
}

// newPeerConnection builds a pion PeerConnection with the current ICE
// configuration. Loopback candidates are enabled so same-machine use
// and test environments work without any network interface.
func (t *WebRTCTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	t.configMu.RLock()
	config := webrtc.Configuration{ICEServers: t.iceServers}
	t.configMu.RUnlock()

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// LocalStream is a MediaStream backed by local RTP tracks, attachable
// through the WebRTC transport. Track creation (from capture, from
// files, from synthesized media) is the caller's concern.
type LocalStream struct {
	id     string
	tracks []webrtc.TrackLocal
}

// NewLocalStream groups tracks under one stream ID.
func NewLocalStream(id string, tracks ...webrtc.TrackLocal) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

// StreamID returns the stream's ID.
func (s *LocalStream) StreamID() string { return s.id }

// Tracks returns the stream's tracks.
func (s *LocalStream) Tracks() []webrtc.TrackLocal { return s.tracks }

// RemoteStream is a MediaStream received from a peer, carrying one
// remote track. A multi-track stream surfaces as one event per track,
// all sharing the stream ID.
type RemoteStream struct {
	id    string
	track *webrtc.TrackRemote
}

// StreamID returns the stream's ID.
func (s *RemoteStream) StreamID() string { return s.id }

// Track returns the received track.
func (s *RemoteStream) Track() *webrtc.TrackRemote { return s.track }
