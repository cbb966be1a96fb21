/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MPR2023/VoiceGuardian/internal/transcription"
)

// NATSService handles NATS messaging for VoiceGuardian
type NATSService struct {
	conn          *nats.Conn
	url           string
	maxReconnect  int
	reconnectWait time.Duration
}

// FlagEvent is the bus payload for a newly stored or escalated flag
type FlagEvent struct {
	FlagID       string  `json:"flag_id"`
	AnalysisUUID string  `json:"analysis_uuid"`
	Phrase       string  `json:"flagged_phrase"`
	Severity     string  `json:"severity"`
	Category     string  `json:"category"`
	Status       string  `json:"status"`
	Reviewer     string  `json:"reviewer,omitempty"`
	Confidence   float64 `json:"confidence"`
	Timestamp    int64   `json:"timestamp"`
}

// NATS subjects for different event types
const (
	SubjectFlagEvents      = "voiceguardian.flags.events"
	SubjectFlagEscalations = "voiceguardian.flags.escalations"

	// liveSegmentsPattern is the per-session subject for browser
	// recognition segments
	liveSegmentsPattern = "voiceguardian.live.%s.segments"
)

// LiveSegmentsSubject returns the segment subject for one capture session
func LiveSegmentsSubject(sessionID string) string {
	return fmt.Sprintf(liveSegmentsPattern, sessionID)
}

// NewNATSService creates a new NATS service instance
func NewNATSService(url string, maxReconnect int, reconnectWait time.Duration) *NATSService {
	if url == "" {
		url = "nats://localhost:4222"
	}
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	return &NATSService{
		url:           url,
		maxReconnect:  maxReconnect,
		reconnectWait: reconnectWait,
	}
}

// Connect establishes connection to the NATS server
func (ns *NATSService) Connect() error {
	log.Printf("🔌 Connecting to NATS at %s", ns.url)

	opts := []nats.Option{
		nats.Name("voiceguardian"),
		nats.ReconnectWait(ns.reconnectWait),
		nats.MaxReconnects(ns.maxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️  NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("🔄 NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Println("🔌 NATS connection closed")
		}),
	}

	conn, err := nats.Connect(ns.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.conn = conn
	log.Printf("✅ Connected to NATS server at %s", conn.ConnectedUrl())
	return nil
}

// PublishFlagEvent publishes a stored flag to the flag events subject
func (ns *NATSService) PublishFlagEvent(event *FlagEvent) error {
	return ns.publish(SubjectFlagEvents, event)
}

// PublishEscalation publishes an escalated flag for downstream alerting
func (ns *NATSService) PublishEscalation(event *FlagEvent) error {
	return ns.publish(SubjectFlagEscalations, event)
}

func (ns *NATSService) publish(subject string, event *FlagEvent) error {
	if ns.conn == nil {
		return fmt.Errorf("NATS connection not established")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal flag event: %w", err)
	}

	if err := ns.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	log.Printf("📤 Published flag to %s - Severity: %s, Phrase: %s",
		subject, event.Severity, event.Phrase)
	return nil
}

// SubscribeToFlagEvents subscribes to stored flag events
func (ns *NATSService) SubscribeToFlagEvents(handler func(*FlagEvent)) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, fmt.Errorf("NATS connection not established")
	}

	return ns.conn.Subscribe(SubjectFlagEvents, func(msg *nats.Msg) {
		var event FlagEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("❌ Error unmarshaling flag event: %v", err)
			return
		}
		handler(&event)
	})
}

// liveSegmentStream hands NATS callback segments to the consumer channel.
// Unsubscribe does not wait for an in-flight subscription callback, so
// sends and close are serialized behind a mutex; a segment arriving after
// close is dropped instead of panicking on the closed channel.
type liveSegmentStream struct {
	mu     sync.Mutex
	ch     chan transcription.LiveSegment
	closed bool
}

func newLiveSegmentStream(buffer int) *liveSegmentStream {
	return &liveSegmentStream{ch: make(chan transcription.LiveSegment, buffer)}
}

// offer delivers a segment without blocking. Returns false when the
// stream is closed or the consumer is behind.
func (s *liveSegmentStream) offer(segment transcription.LiveSegment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- segment:
		return true
	default:
		return false
	}
}

func (s *liveSegmentStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// SubscribeToLiveSegments implements transcription.SegmentSource: browser
// clients publish recognition segments on the per-session subject and the
// live backend consumes them through the returned channel.
func (ns *NATSService) SubscribeToLiveSegments(ctx context.Context, sessionID string) (<-chan transcription.LiveSegment, func(), error) {
	if ns.conn == nil {
		return nil, nil, fmt.Errorf("NATS connection not established")
	}

	stream := newLiveSegmentStream(32)
	subject := LiveSegmentsSubject(sessionID)

	sub, err := ns.conn.Subscribe(subject, func(msg *nats.Msg) {
		var segment transcription.LiveSegment
		if err := json.Unmarshal(msg.Data, &segment); err != nil {
			log.Printf("❌ Error unmarshaling live segment: %v", err)
			return
		}

		if !stream.offer(segment) {
			// A slow or finished consumer drops segments rather than
			// blocking the NATS callback.
			log.Printf("⚠️  Dropped live segment for session %s", sessionID)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	cancel := func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("⚠️  Failed to unsubscribe from %s: %v", subject, err)
		}
		stream.close()
	}

	log.Printf("📥 Subscribed to live segments for session %s", sessionID)
	return stream.ch, cancel, nil
}

// Close closes the NATS connection
func (ns *NATSService) Close() {
	if ns.conn != nil {
		ns.conn.Close()
		log.Println("🔌 NATS connection closed")
	}
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	return ns.conn != nil && ns.conn.IsConnected()
}

// GetStats returns connection statistics
func (ns *NATSService) GetStats() nats.Statistics {
	if ns.conn != nil {
		return ns.conn.Stats()
	}
	return nats.Statistics{}
}
