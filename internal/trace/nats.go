package trace

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/logging"
)

// DefaultSubject is the NATS subject prefix for live trace events.
const DefaultSubject = "benchagent.trace"

// NATSPublisher streams committed events to NATS so that several task runs
// can be watched from one place. Events are published on
// <subject>.<run id>.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *logging.Logger
}

// DialNATS connects to url and returns a publisher for subject.
func DialNATS(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("benchagent"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logging.New().WithComponent("trace"),
	}, nil
}

// ForRun returns an observer that publishes one run's events.
func (p *NATSPublisher) ForRun(runID string) Observer {
	subject := p.subject + "." + runID
	return ObserverFunc(func(e Event) {
		data, err := json.Marshal(e)
		if err != nil {
			p.logger.Warn("trace event encode failed", map[string]interface{}{"error": err.Error()})
			return
		}
		if err := p.conn.Publish(subject, data); err != nil {
			p.logger.Warn("trace event publish failed", map[string]interface{}{
				"subject": subject,
				"error":   err.Error(),
			})
		}
	})
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
