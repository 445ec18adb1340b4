package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

const amqpExchangePrefix = "pairline.room."

// ExchangeName returns the fanout exchange carrying roomID's signaling.
func ExchangeName(roomID string) string {
	return amqpExchangePrefix + roomID
}

// AMQP is a Transport over RabbitMQ. Each room is a fanout exchange and each
// session consumes from its own exclusive, auto-deleted queue bound to it.
type AMQP struct {
	url  string
	dial func(url string) (amqpConn, error)
}

// amqpConn and amqpChannel are the parts of streadway/amqp a session uses.
type amqpConn interface {
	Channel() (amqpChannel, error)
	Close() error
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type brokerConn struct {
	*amqp.Connection
}

func (c brokerConn) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialBroker(url string) (amqpConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return brokerConn{conn}, nil
}

// NewAMQP creates an AMQP transport for the broker at url.
func NewAMQP(url string) *AMQP {
	return &AMQP{url: url, dial: dialBroker}
}

// Open connects to the broker and subscribes participantID to roomID.
func (t *AMQP) Open(ctx context.Context, roomID, participantID string) (Session, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := t.dial(t.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	s, err := newAMQPSession(conn, roomID, participantID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

type amqpSession struct {
	conn          amqpConn
	ch            amqpChannel
	exchange      string
	roomID        string
	participantID string

	// amqp.Channel is not safe for concurrent publishing.
	pubMu sync.Mutex

	inbox Inbox

	done      chan struct{}
	closeOnce sync.Once
}

func newAMQPSession(conn amqpConn, roomID, participantID string) (*amqpSession, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	fail := func(err error) (*amqpSession, error) {
		ch.Close()
		return nil, err
	}

	exchange := ExchangeName(roomID)
	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // kind
		false,    // durable
		true,     // delete when unused
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fail(fmt.Errorf("failed to declare exchange %s: %w", exchange, err))
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}

	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return fail(fmt.Errorf("failed to bind queue: %w", err))
	}

	deliveries, err := ch.Consume(
		q.Name,        // queue
		participantID, // consumer
		true,          // auto-ack
		true,          // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fail(fmt.Errorf("failed to consume: %w", err))
	}

	s := &amqpSession{
		conn:          conn,
		ch:            ch,
		exchange:      exchange,
		roomID:        roomID,
		participantID: participantID,
		done:          make(chan struct{}),
	}
	go s.consume(deliveries)
	return s, nil
}

func (s *amqpSession) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var msg Message
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			slog.Warn("dropping malformed signaling message", "room_id", s.roomID, "error", err)
			continue
		}
		s.inbox.Deliver(msg)
	}

	select {
	case <-s.done:
		slog.Debug("amqp consumer stopped", "room_id", s.roomID, "participant_id", s.participantID)
	default:
		slog.Warn("broker connection lost", "room_id", s.roomID, "participant_id", s.participantID)
		s.Close()
	}
}

func (s *amqpSession) Publish(ctx context.Context, msg Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if msg.RoomID == "" {
		msg.RoomID = s.roomID
	}
	if msg.SenderID == "" {
		msg.SenderID = s.participantID
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	return s.ch.Publish(
		s.exchange, // exchange
		"",         // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   uuid.NewString(),
			Timestamp:   time.Now(),
			AppId:       s.participantID,
			Body:        body,
		},
	)
}

func (s *amqpSession) OnReceive(fn func(Message)) {
	s.inbox.SetHandler(fn)
}

func (s *amqpSession) Done() <-chan struct{} { return s.done }

func (s *amqpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if cerr := s.ch.Close(); cerr != nil {
			err = cerr
		}
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
