// Package notify broadcasts run summaries over a nanomsg PUB socket so that
// dashboards and alerting can follow analyses as they finish.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/pipeline"
)

// Topic prefixes every published message.
const Topic = "malaphor.run:"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("notifier closed")

// Summary is the compact view of a result that subscribers receive.
type Summary struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Entities   int       `json:"entities"`
	PathsFound int       `json:"paths_found"`
	Truncated  bool      `json:"truncated"`
	Outliers   int       `json:"outliers"`
	TopScore   *float64  `json:"top_score,omitempty"`
	TopPath    string    `json:"top_path,omitempty"`
	ReportURL  string    `json:"report_url,omitempty"`
}

// Summarize builds the Summary of res.
func Summarize(res *pipeline.Result, source, reportURL string) Summary {
	s := Summary{
		RunID:      res.RunID,
		Source:     source,
		StartedAt:  res.StartedAt,
		DurationMs: res.DurationMillis,
		Entities:   res.Stats.Entities,
		PathsFound: res.PathsFound,
		Truncated:  res.Truncated,
		Outliers:   res.Stats.Outliers,
		ReportURL:  reportURL,
	}
	if len(res.RiskyPaths) > 0 {
		top := res.RiskyPaths[0]
		s.TopScore = &top.Score
		s.TopPath = top.PathWithTypes
	}
	return s
}

// Publisher owns a listening PUB socket.
type Publisher struct {
	sock   mangos.Socket
	logger logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewPublisher listens on addr, for example tcp://0.0.0.0:40899.
func NewPublisher(addr string, logger logging.Logger) (*Publisher, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger.Info("publishing run summaries", logging.String("addr", addr))
	return &Publisher{sock: sock, logger: logger.With(logging.Component("notify"))}, nil
}

// Publish sends s to every connected subscriber. PUB never blocks on slow
// subscribers; messages to them are dropped.
func (p *Publisher) Publish(s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	msg := append([]byte(Topic), data...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.sock.Send(msg); err != nil {
		return fmt.Errorf("failed to publish summary: %w", err)
	}
	p.logger.Debug("summary published", logging.RunID(s.RunID))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sock.Close()
}

// Subscriber receives summaries from a Publisher.
type Subscriber struct {
	sock mangos.Socket
}

// Subscribe dials addr and subscribes to run summaries.
func Subscribe(addr string) (*Subscriber, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := sock.Dial(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte(Topic)); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &Subscriber{sock: sock}, nil
}

// Next waits up to timeout for a summary. A zero timeout waits forever.
func (s *Subscriber) Next(timeout time.Duration) (Summary, error) {
	var out Summary
	if err := s.sock.SetOption(mangos.OptionRecvDeadline, timeout); err != nil {
		return out, err
	}
	msg, err := s.sock.Recv()
	if err != nil {
		return out, err
	}
	payload, ok := bytes.CutPrefix(msg, []byte(Topic))
	if !ok {
		return out, fmt.Errorf("unexpected message topic")
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("failed to decode summary: %w", err)
	}
	return out, nil
}

func (s *Subscriber) Close() error {
	return s.sock.Close()
}
