// Package nats reads Gerrit events relayed onto a NATS subject.
package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"gerrit-watch/internal/models"
)

// Source opens NATS sessions. Events arrive on subject as one stream-events
// record per message; queries are requests on querySubject answered with
// newline-delimited query results.
type Source struct {
	url           string
	subject       string
	querySubject  string
	maxReconnect  int
	reconnectWait time.Duration
	logger        *logrus.Logger
}

// NewSource creates a new NATS event source
func NewSource(url, subject, querySubject string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) *Source {
	return &Source{
		url:           url,
		subject:       subject,
		querySubject:  querySubject,
		maxReconnect:  maxReconnect,
		reconnectWait: reconnectWait,
		logger:        logger,
	}
}

// Open connects to the NATS server
func (s *Source) Open(ctx context.Context) (*Session, error) {
	logger := s.logger
	opts := []nats.Option{
		nats.MaxReconnects(s.maxReconnect),
		nats.ReconnectWait(s.reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(s.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", s.url)

	return &Session{
		conn:         conn,
		subject:      s.subject,
		querySubject: s.querySubject,
		logger:       logger,
	}, nil
}

// Session is one NATS connection
type Session struct {
	conn         *nats.Conn
	subject      string
	querySubject string
	logger       *logrus.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// Query sends the query as a request and splits the reply into records
func (s *Session) Query(ctx context.Context, query string) ([][]byte, error) {
	msg, err := s.conn.RequestWithContext(ctx, s.querySubject, []byte(query))
	if err != nil {
		return nil, fmt.Errorf("failed to query changes on %s: %w", s.querySubject, err)
	}
	return models.SplitRecords(msg.Data)
}

// StartDelivery subscribes to the event subject
func (s *Session) StartDelivery(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return fmt.Errorf("event delivery already started")
	}

	sub, err := s.conn.SubscribeSync(s.subject)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	s.sub = sub
	s.logger.Debugf("Subscribed to %s", s.subject)
	return nil
}

// Next waits for the next event message
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return nil, fmt.Errorf("event delivery not started")
	}

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to receive event: %w", err)
	}
	return msg.Data, nil
}

// Alive reports whether the subscription can still deliver events
func (s *Session) Alive() bool {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	return sub != nil && sub.IsValid() && s.conn.IsConnected()
}

// Close closes the NATS connection
func (s *Session) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
