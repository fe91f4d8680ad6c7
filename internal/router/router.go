// Package router maps channel IDs to agents. Each channel owns one agent and
// one conversation; turns for the same channel run one at a time in arrival
// order.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"spellcast/internal/agent"
	"spellcast/internal/domain"
	"spellcast/internal/queue"
)

// AgentFactory builds the agent that serves channelID.
type AgentFactory func(channelID string) (*agent.Agent, error)

// Channel is an active channel and the agent serving it.
type Channel struct {
	ID        string
	Agent     *agent.Agent
	CreatedAt time.Time
}

// ErrEmptyChannelID is returned when Route is called with an empty channel ID.
var ErrEmptyChannelID = errors.New("router: channel ID must not be empty")

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router manages active channels and routes turns to their agents.
// Route and Clear calls for the same channel are serialized in FIFO order via
// a LaneQueue.
type Router struct {
	mu        sync.RWMutex
	channels  map[string]*Channel
	factory   AgentFactory
	laneQueue *queue.LaneQueue
	logger    *slog.Logger

	// afterReadMiss is a test hook called after a read-lock miss and before acquiring
	// the write lock in getOrCreateChannel. Nil in production.
	afterReadMiss func()
}

// NewRouter creates a Router. factory must not be nil.
func NewRouter(factory AgentFactory, opts ...Option) *Router {
	if factory == nil {
		panic("router: agent factory must not be nil")
	}
	r := &Router{
		channels:  make(map[string]*Channel),
		factory:   factory,
		laneQueue: queue.NewLaneQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Route runs one streamed turn for prompt on the channel's agent, creating
// the channel if needed. sink is closed exactly once. A failed round returns
// the agent to idle, keeping the conversation, so the channel stays usable.
func (r *Router) Route(ctx context.Context, channelID, prompt string, sink io.WriteCloser) (string, error) {
	if channelID == "" {
		closeQuietly(sink)
		return "", ErrEmptyChannelID
	}

	sink = newOnceCloser(sink)
	var answer string
	var ran atomic.Bool
	err := r.laneQueue.Do(ctx, channelID, func() error {
		ran.Store(true)
		ch, err := r.getOrCreateChannel(channelID)
		if err != nil {
			closeQuietly(sink)
			return err
		}
		out, err := ch.Agent.ProceedWithStream(ctx, prompt, sink)
		if errors.Is(err, domain.ErrStreamProcessing) {
			r.log().Warn("router: turn failed, resetting agent", "channel", channelID, "error", err)
			ch.Agent.Reset()
		}
		answer = out
		return err
	})
	if !ran.Load() {
		closeQuietly(sink)
	}
	return answer, err
}

// Clear drops the channel's conversation back to its system prompt. Clearing
// an unknown channel is a no-op.
func (r *Router) Clear(ctx context.Context, channelID string) error {
	if channelID == "" {
		return ErrEmptyChannelID
	}
	return r.laneQueue.Do(ctx, channelID, func() error {
		r.mu.RLock()
		ch, ok := r.channels[channelID]
		r.mu.RUnlock()
		if ok {
			ch.Agent.Clear()
			r.log().Info("router: channel cleared", "channel", channelID)
		}
		return nil
	})
}

// ActiveChannels returns a sorted list of active channel IDs.
func (r *Router) ActiveChannels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetChannel returns a copy of the channel, or false if not found.
func (r *Router) GetChannel(channelID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// ChannelCount returns the number of active channels.
func (r *Router) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Close stops the per-channel lanes, waiting for running turns to finish.
func (r *Router) Close() {
	r.laneQueue.Close()
}

// getOrCreateChannel returns the channel for the given ID, creating it if needed.
func (r *Router) getOrCreateChannel(channelID string) (*Channel, error) {
	r.mu.RLock()
	ch, ok := r.channels[channelID]
	r.mu.RUnlock()
	if ok {
		return ch, nil
	}

	if r.afterReadMiss != nil {
		r.afterReadMiss()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok = r.channels[channelID]; ok {
		return ch, nil
	}

	a, err := r.factory(channelID)
	if err != nil {
		return nil, fmt.Errorf("router: create agent for %q: %w", channelID, err)
	}
	ch = &Channel{ID: channelID, Agent: a, CreatedAt: time.Now()}
	r.channels[channelID] = ch
	r.log().Debug("router: channel created", "channel", channelID)
	return ch, nil
}

// onceCloser guards a sink that both the lane and the caller may close.
type onceCloser struct {
	io.WriteCloser
	once sync.Once
	err  error
}

func newOnceCloser(w io.WriteCloser) io.WriteCloser {
	if w == nil {
		return nil
	}
	return &onceCloser{WriteCloser: w}
}

func (o *onceCloser) Close() error {
	o.once.Do(func() { o.err = o.WriteCloser.Close() })
	return o.err
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
