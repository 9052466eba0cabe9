package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"voicecall-server/pkg/metrics"
)

// CallEvent is the message shape published for call lifecycle changes
type CallEvent struct {
	CallID    string                 `json:"call_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Config holds publisher configuration
type Config struct {
	URL       string
	QueueName string
	Durable   bool
}

// Publisher delivers call lifecycle events to an AMQP queue. When no URL
// is configured the publisher is disabled and every call is a no-op.
type Publisher struct {
	logger    *logrus.Logger
	config    Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewPublisher creates a publisher. Connect must be called before
// publishing.
func NewPublisher(logger *logrus.Logger, config Config) *Publisher {
	return &Publisher{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Enabled reports whether a broker is configured
func (p *Publisher) Enabled() bool {
	return p.config.URL != "" && p.config.QueueName != ""
}

// Connect dials the broker, declares the queue and starts the
// connection monitor. Calling Connect while connected is a no-op.
func (p *Publisher) Connect() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.connected {
		return nil
	}

	if !p.Enabled() {
		p.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, event publishing disabled")
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		p.config.QueueName,
		p.config.Durable,
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true
	p.stopChan = make(chan struct{})

	p.logger.WithFields(logrus.Fields{
		"url":   p.config.URL,
		"queue": p.config.QueueName,
	}).Info("Connected to AMQP server")

	go p.monitorConnection()

	return nil
}

// PublishCallEvent sends one call lifecycle event. Publishing while
// disconnected is dropped with a warning rather than an error; the
// event stream remains the primary status signal.
func (p *Publisher) PublishCallEvent(callID, status string, metadata map[string]interface{}) error {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()

	if !p.Enabled() {
		return nil
	}

	if !p.connected {
		p.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"status":  status,
		}).Warn("AMQP disconnected, dropping call event")
		return nil
	}

	body, err := json.Marshal(CallEvent{
		CallID:    callID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to encode call event: %w", err)
	}

	err = p.channel.Publish(
		"", // default exchange
		p.config.QueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish call event: %w", err)
	}

	metrics.RecordEventPublished()
	p.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"status":  status,
	}).Debug("Published call event")

	return nil
}

// monitorConnection watches the AMQP connection and reconnects with a
// backoff when it drops unexpectedly.
func (p *Publisher) monitorConnection() {
	closeChan := make(chan *amqp.Error)
	p.connMutex.RLock()
	p.conn.NotifyClose(closeChan)
	// Snapshot: Connect replaces stopChan on every reconnect.
	stopChan := p.stopChan
	p.connMutex.RUnlock()

	select {
	case <-stopChan:
		return
	case closeErr := <-closeChan:
		if closeErr == nil {
			// Orderly shutdown.
			return
		}

		p.connMutex.Lock()
		p.connected = false
		p.connMutex.Unlock()

		p.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

		for attempt := 1; attempt <= 5; attempt++ {
			select {
			case <-stopChan:
				return
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}

			p.logger.WithField("attempt", attempt).Info("Reconnecting to AMQP server")
			if err := p.Connect(); err == nil {
				p.logger.Info("Successfully reconnected to AMQP server")
				return
			} else {
				p.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")
			}
		}

		p.logger.Error("Giving up on AMQP reconnection")
	}
}

// IsConnected reports the connection status
func (p *Publisher) IsConnected() bool {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()

	return p.connected
}

// Disconnect closes the connection and stops the monitor
func (p *Publisher) Disconnect() {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if !p.connected {
		return
	}

	close(p.stopChan)

	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}

	p.connected = false
	p.logger.Info("Disconnected from AMQP server")
}
