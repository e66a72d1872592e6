package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published on the activity stream.
const (
	KindResourceUploaded = "resource.uploaded"
	KindReviewSubmitted  = "review.submitted"
	KindReviewDeleted    = "review.deleted"
)

// ActivityEvent describes a catalog mutation for live dashboards.
type ActivityEvent struct {
	Kind          string    `json:"kind"`
	ResourceID    string    `json:"resource_id"`
	Title         string    `json:"title,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Institution   string    `json:"institution,omitempty"`
	Rating        int       `json:"rating,omitempty"`
	AverageRating float64   `json:"average_rating,omitempty"`
	TotalRatings  int       `json:"total_ratings,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Stream fan-outs activity events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ActivityEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ActivityEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ActivityEvent {
	ch := make(chan ActivityEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt ActivityEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
