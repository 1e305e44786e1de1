package progress

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind is dropped rather than allowed to stall fan-out.
const subscriberBuffer = 64

// KeepaliveInterval is how often downstream websocket handlers should emit a
// keepalive frame to idle subscribers.
const KeepaliveInterval = 30 * time.Second

// Subscriber receives transformed frames for one job. The Frames channel is
// closed when the job's stream ends or the subscriber is dropped.
type Subscriber struct {
	frames chan Frame
	job    string
}

// Frames returns the receive side of the subscriber's frame channel.
func (s *Subscriber) Frames() <-chan Frame { return s.frames }

type jobStream struct {
	promptID    string
	subscribers map[*Subscriber]struct{}
	cancel      context.CancelFunc
	closed      bool
}

// Hub multiplexes one upstream websocket proxy per job to any number of
// subscribers. The first Subscribe for a job dials the backend; the proxy is
// cancelled when the last subscriber leaves.
type Hub struct {
	upstreamURL string
	clientID    string
	dialer      *websocket.Dialer

	mu   sync.Mutex
	jobs map[string]*jobStream
}

// NewHub builds a hub proxying the backend websocket at upstreamURL,
// identifying itself with clientID so the backend routes events for prompts
// submitted under the same id.
func NewHub(upstreamURL, clientID string) *Hub {
	return &Hub{
		upstreamURL: upstreamURL,
		clientID:    clientID,
		dialer:      websocket.DefaultDialer,
		jobs:        make(map[string]*jobStream),
	}
}

// ClientID returns the identifier the hub presents to the backend.
func (h *Hub) ClientID() string { return h.clientID }

// Subscribe attaches a new subscriber to jobID's stream, starting the
// upstream proxy for promptID if this is the first subscriber.
func (h *Hub) Subscribe(jobID, promptID string) *Subscriber {
	sub := &Subscriber{frames: make(chan Frame, subscriberBuffer), job: jobID}

	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.jobs[jobID]
	if !ok || stream.closed {
		ctx, cancel := context.WithCancel(context.Background())
		stream = &jobStream{
			promptID:    promptID,
			subscribers: make(map[*Subscriber]struct{}),
			cancel:      cancel,
		}
		h.jobs[jobID] = stream
		go h.proxy(ctx, jobID, promptID)
	}
	stream.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches sub from its job. When the last subscriber leaves the
// upstream proxy is cancelled and the job entry removed.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.jobs[sub.job]
	if !ok {
		return
	}
	if _, present := stream.subscribers[sub]; !present {
		return
	}
	delete(stream.subscribers, sub)
	close(sub.frames)
	if len(stream.subscribers) == 0 {
		stream.cancel()
		delete(h.jobs, sub.job)
	}
}

// PublishError delivers a terminal error frame to jobID's subscribers and
// closes the stream. Used when a job fails before or outside the upstream
// websocket.
func (h *Hub) PublishError(jobID, message string) {
	h.broadcast(jobID, Frame{Type: TypeError, Message: message})
	h.closeJob(jobID)
}

// broadcast fans a frame out to every live subscriber of jobID. Subscribers
// whose buffers are full are dropped so one slow reader cannot stall the
// stream.
func (h *Hub) broadcast(jobID string, frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.jobs[jobID]
	if !ok {
		return
	}
	for sub := range stream.subscribers {
		select {
		case sub.frames <- frame:
		default:
			log.Warn().Str("job_id", jobID).Msg("dropping slow progress subscriber")
			delete(stream.subscribers, sub)
			close(sub.frames)
		}
	}
	if len(stream.subscribers) == 0 {
		stream.cancel()
		delete(h.jobs, jobID)
	}
}

// closeJob ends jobID's stream: the proxy is cancelled, every remaining
// subscriber channel is closed, and the entry is removed.
func (h *Hub) closeJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.jobs[jobID]
	if !ok {
		return
	}
	stream.cancel()
	stream.closed = true
	for sub := range stream.subscribers {
		delete(stream.subscribers, sub)
		close(sub.frames)
	}
	delete(h.jobs, jobID)
}

// subscriberCount reports how many subscribers jobID currently has.
func (h *Hub) subscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if stream, ok := h.jobs[jobID]; ok {
		return len(stream.subscribers)
	}
	return 0
}

// proxy is the per-job upstream task: it dials the backend websocket, reads
// raw frames, and broadcasts the transformed ones that belong to promptID.
// It exits on context cancellation, upstream close, or the terminal
// executing frame with a null node.
func (h *Hub) proxy(ctx context.Context, jobID, promptID string) {
	url := h.upstreamURL + "?clientId=" + h.clientID

	conn, _, err := h.dialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Str("url", url).Msg("progress proxy dial failed")
		h.PublishError(jobID, "progress stream unavailable: "+err.Error())
		return
	}
	defer conn.Close()

	// Unblock ReadMessage when the last subscriber leaves.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Debug().Str("job_id", jobID).Str("prompt_id", promptID).Msg("progress proxy started")

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("job_id", jobID).Msg("progress stream closed upstream")
				h.PublishError(jobID, "progress stream closed: "+err.Error())
			}
			return
		}
		if messageType != websocket.TextMessage {
			// Binary preview frames are not forwarded.
			continue
		}

		frame, ok, done, err := transform(raw, promptID)
		if err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("skipping malformed progress frame")
			continue
		}
		if !ok {
			continue
		}
		h.broadcast(jobID, frame)
		if done {
			log.Debug().Str("job_id", jobID).Msg("progress stream complete")
			h.closeJob(jobID)
			return
		}
	}
}
