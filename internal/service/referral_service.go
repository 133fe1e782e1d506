package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/lms-gateway/internal/backend"
	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/observability"
)

// Referral input states.
const (
	ReferralStateIdle       = "idle"
	ReferralStateValidating = "validating"
	ReferralStateValid      = "valid"
	ReferralStateInvalid    = "invalid"
)

// Messages shown next to the referral input.
const (
	ReferralValidMessage   = "Referral applied! You get 10% off your first course."
	ReferralInvalidMessage = "Invalid referral code"
	ReferralTimeoutMessage = "Referral check timed out. Please try again."
)

// ReferralChecker asks the backend whether a code is usable.
type ReferralChecker interface {
	ValidateReferral(ctx context.Context, code string) (backend.ReferralValidation, error)
}

// ReferralResult is the outcome of the latest validation on one input stream.
type ReferralResult struct {
	State        string
	Code         string
	ReferrerName string
	Message      string
	Sequence     uint64
}

// Welcome returns the one-time acknowledgment shown after a referred signup.
func (r ReferralResult) Welcome() string {
	if r.State != ReferralStateValid || r.ReferrerName == "" {
		return ""
	}
	return fmt.Sprintf("Welcome! You were referred by %s", r.ReferrerName)
}

// Response converts the result into its DTO.
func (r ReferralResult) Response() dto.ReferralStateResponse {
	return dto.ReferralStateResponse{
		State:        r.State,
		Code:         r.Code,
		ReferrerName: r.ReferrerName,
		Message:      r.Message,
		Welcome:      r.Welcome(),
		Sequence:     r.Sequence,
	}
}

// ReferralService validates referral codes per input stream. Only the most recently
// issued validation of a stream may change its visible state.
type ReferralService interface {
	Validate(ctx context.Context, session, code string) dto.ReferralStateResponse
	State(session string) dto.ReferralStateResponse
	Prune(idle time.Duration) int
}

type referralStream struct {
	seq     uint64
	cancel  context.CancelFunc
	result  ReferralResult
	touched time.Time
}

type referralService struct {
	checker ReferralChecker
	timeout time.Duration
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu      sync.Mutex
	streams map[string]*referralStream
}

// NewReferralService builds the referral validator with the given client-side timeout.
func NewReferralService(checker ReferralChecker, timeout time.Duration, logger zerolog.Logger) ReferralService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &referralService{
		checker: checker,
		timeout: timeout,
		logger:  logger.With().Str("component", "referral_service").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/lms-gateway/internal/service/referral"),
		now:     time.Now,
		streams: make(map[string]*referralStream),
	}
}

func (s *referralService) Validate(ctx context.Context, session, code string) dto.ReferralStateResponse {
	code = strings.TrimSpace(code)

	s.mu.Lock()
	stream := s.streamLocked(session)
	stream.seq++
	seq := stream.seq
	if stream.cancel != nil {
		stream.cancel()
		stream.cancel = nil
	}

	if code == "" {
		stream.result = ReferralResult{State: ReferralStateIdle, Sequence: seq}
		response := stream.result.Response()
		s.mu.Unlock()
		observability.ReferralValidations().WithLabelValues(ReferralStateIdle).Inc()
		return response
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	stream.cancel = cancel
	stream.result = ReferralResult{State: ReferralStateValidating, Code: code, Sequence: seq}
	s.mu.Unlock()
	defer cancel()

	result, outcome := s.check(reqCtx, code, seq)

	s.mu.Lock()
	defer s.mu.Unlock()

	if stream.seq != seq {
		observability.ReferralValidations().WithLabelValues("superseded").Inc()
		s.logger.Debug().Str("session", session).Uint64("sequence", seq).Uint64("latest", stream.seq).Msg("discarding superseded referral response")
		response := stream.result.Response()
		response.Superseded = true
		return response
	}

	stream.cancel = nil
	stream.result = result
	stream.touched = s.now()
	observability.ReferralValidations().WithLabelValues(outcome).Inc()
	return result.Response()
}

func (s *referralService) State(session string) dto.ReferralStateResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[session]
	if !ok {
		return ReferralResult{State: ReferralStateIdle}.Response()
	}
	return stream.result.Response()
}

// Prune forgets streams untouched for longer than idle and returns how many were dropped.
func (s *referralService) Prune(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for session, stream := range s.streams {
		if stream.cancel != nil || stream.touched.After(cutoff) {
			continue
		}
		delete(s.streams, session)
		removed++
	}
	return removed
}

func (s *referralService) streamLocked(session string) *referralStream {
	stream, ok := s.streams[session]
	if !ok {
		stream = &referralStream{}
		s.streams[session] = stream
	}
	stream.touched = s.now()
	return stream
}

func (s *referralService) check(ctx context.Context, code string, seq uint64) (ReferralResult, string) {
	spanCtx, span := s.tracer.Start(ctx, "referrals.validate", trace.WithAttributes(
		attribute.Int64("referral.sequence", int64(seq)),
	))
	defer span.End()

	verdict, err := s.checker.ValidateReferral(spanCtx, code)
	if err != nil {
		span.RecordError(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || backend.IsTimeout(err) {
			return ReferralResult{State: ReferralStateInvalid, Code: code, Message: ReferralTimeoutMessage, Sequence: seq}, "timeout"
		}

		message := backend.ServerMessage(err)
		if message == "" {
			message = ReferralInvalidMessage
		}
		outcome := "invalid"
		if backend.IsNetwork(err) {
			outcome = "network_error"
			s.logger.Warn().Err(err).Msg("referral validation failed")
		}
		return ReferralResult{State: ReferralStateInvalid, Code: code, Message: message, Sequence: seq}, outcome
	}

	if !verdict.Valid {
		message := strings.TrimSpace(verdict.Message)
		if message == "" {
			message = ReferralInvalidMessage
		}
		return ReferralResult{State: ReferralStateInvalid, Code: code, Message: message, Sequence: seq}, "invalid"
	}

	referrer := ""
	if verdict.Referrer != nil {
		referrer = strings.TrimSpace(verdict.Referrer.Name)
	}
	return ReferralResult{
		State:        ReferralStateValid,
		Code:         code,
		ReferrerName: referrer,
		Message:      ReferralValidMessage,
		Sequence:     seq,
	}, "valid"
}
