// Package emulator provides a stand-in server and client population for
// exercising the relay without real endpoints.
package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/messaging"
)

// Server emulator defaults
const (
	DefaultMinDelay     = 100 * time.Millisecond
	DefaultMaxDelay     = 2 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
)

// Handler turns an untagged request into an untagged response
type Handler func(ctx context.Context, request contracts.Message) (contracts.Message, error)

// Processed is the default handler; it appends "-processed" to the body
func Processed(_ context.Context, request contracts.Message) (contracts.Message, error) {
	response := request.Clone()
	response[contracts.FieldBody] = fmt.Sprintf("%v-processed", request.Body())
	return response, nil
}

type pendingResponse struct {
	msg contracts.Message
	due time.Time
}

// Server consumes tagged requests, processes them without looking at the
// tag and emits each response with its tag after a random delay.
// Responses complete in arbitrary order.
type Server struct {
	in           messaging.Queue
	out          messaging.Queue
	handler      Handler
	minDelay     time.Duration
	maxDelay     time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// ServerOption configures the Server
type ServerOption func(*Server)

// WithHandler replaces the default handler
func WithHandler(handler Handler) ServerOption {
	return func(s *Server) {
		s.handler = handler
	}
}

// WithDelay sets the processing delay range
func WithDelay(min, max time.Duration) ServerOption {
	return func(s *Server) {
		s.minDelay = min
		s.maxDelay = max
	}
}

// WithServerPollInterval bounds how long the server sleeps between checks
func WithServerPollInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pollInterval = interval
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server reading from in and writing to out
func NewServer(in, out messaging.Queue, options ...ServerOption) *Server {
	s := &Server{
		in:           in,
		out:          out,
		handler:      Processed,
		minDelay:     DefaultMinDelay,
		maxDelay:     DefaultMaxDelay,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	if s.minDelay < 0 {
		s.minDelay = 0
	}
	if s.maxDelay < s.minDelay {
		s.maxDelay = s.minDelay
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}

	return s
}

func (s *Server) delay() time.Duration {
	if s.maxDelay == s.minDelay {
		return s.minDelay
	}
	return s.minDelay + rand.N(s.maxDelay-s.minDelay+1)
}

// Run serves until ctx is cancelled. Responses still pending are discarded.
func (s *Server) Run(ctx context.Context) error {
	var pending []pendingResponse

	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			if len(pending) > 0 {
				s.logger.Info("server stopping with pending responses", "pending", len(pending))
			}
			return err
		}

		for {
			request, ok, err := s.in.TryReceive(ctx)
			if err != nil {
				s.logger.Error("failed to receive request", "error", err)
				break
			}
			if !ok {
				break
			}
			if p, ok := s.process(ctx, request); ok {
				pending = append(pending, p)
			}
		}

		pending = s.emitDue(ctx, pending)

		wait := s.pollInterval
		now := time.Now()
		for _, p := range pending {
			if d := p.due.Sub(now); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
		case <-s.in.Ready():
		case <-timer.C:
		}
	}
}

// process runs the handler on the untagged request and schedules the response
func (s *Server) process(ctx context.Context, request contracts.Message) (pendingResponse, bool) {
	tag, err := request.Tag()
	if err != nil {
		s.logger.Warn("server dropped request without usable tag", "error", err)
		return pendingResponse{}, false
	}

	s.logger.Debug("server received request", "tag", tag, "body", request.Body())

	response, err := s.handler(ctx, request.WithoutTag())
	if err != nil {
		s.logger.Error("handler failed", "tag", tag, "error", err)
		return pendingResponse{}, false
	}

	return pendingResponse{
		msg: response.WithTag(tag),
		due: time.Now().Add(s.delay()),
	}, true
}

// emitDue sends every response whose delay has passed and returns the rest
func (s *Server) emitDue(ctx context.Context, pending []pendingResponse) []pendingResponse {
	now := time.Now()
	remaining := pending[:0]
	for _, p := range pending {
		if p.due.After(now) {
			remaining = append(remaining, p)
			continue
		}
		if err := s.out.Send(ctx, p.msg); err != nil {
			s.logger.Error("failed to send response", "error", err)
			continue
		}
		s.logger.Debug("server sent response", "body", p.msg.Body())
	}
	return remaining
}
