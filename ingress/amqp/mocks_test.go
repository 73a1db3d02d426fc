package amqp

import (
	"context"
	"encoding/json"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	a := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return a.Get(0).(amqp091.Queue), a.Error(1)
}

func (m *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error) {
	a := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	deliveries, _ := a.Get(0).(<-chan amqp091.Delivery)
	return deliveries, a.Error(1)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

// fakeAcknowledger records acks and nacks by delivery tag
type fakeAcknowledger struct {
	acks  chan uint64
	nacks chan uint64
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{
		acks:  make(chan uint64, 16),
		nacks: make(chan uint64, 16),
	}
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acks <- tag
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks <- tag
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacks <- tag
	return nil
}

// senderFunc adapts a function to bridge.Sender
type senderFunc func(ctx context.Context, commandType string, params any) (json.RawMessage, error)

func (f senderFunc) Send(ctx context.Context, commandType string, params any) (json.RawMessage, error) {
	return f(ctx, commandType, params)
}
