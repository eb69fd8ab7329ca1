package nats

import (
	"time"

	"github.com/nats-io/nats.go"
)

// Bus implements repository.MessageBus on a core NATS connection.
type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

// Conn exposes the connection so handlers and workers share it with the bus.
func (b *Bus) Conn() *nats.Conn {
	return b.nc
}

func (b *Bus) Publish(topic string, data []byte) error {
	return b.nc.Publish(topic, data)
}

// Flush waits until buffered entries reached the server. Called during shutdown.
func (b *Bus) Flush() error {
	return b.nc.FlushTimeout(2 * time.Second)
}
