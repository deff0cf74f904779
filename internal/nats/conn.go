package nats

import (
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Message is one NATS delivery handed to a Bridge subscription.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
}

// Conn is a NATS connection scoped to what Bridge needs: publish a byte
// payload to a subject, subscribe to a subject, and know whether the
// underlying link is currently up. It intentionally drops the teacher's
// request/reply, queue-group, and raw-connection escape hatches — nothing
// in this module's Message Bus bridging uses NATS for anything but
// fire-and-forget delivery, since request/response correlation is the
// in-process bus.Bus's job (spec section 4.F), not NATS's.
type Conn struct {
	nc *nc.Conn
}

// Dial connects to a NATS server at url with indefinite reconnect, the
// same resilience posture the teacher's internal/nats/client.go gave every
// connection.
func Dial(url string) (*Conn, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				fmt.Printf("[NATS-BRIDGE] disconnected: %v\n", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			fmt.Printf("[NATS-BRIDGE] reconnected to %s\n", c.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Conn{nc: conn}, nil
}

// Close tears down the connection.
func (c *Conn) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

// Publish sends data to subject.
func (c *Conn) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers an asynchronous handler for subject.
func (c *Conn) Subscribe(subject string, handler func(*Message)) (*nc.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nc.Msg) {
		handler(&Message{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// IsConnected reports whether the link to the NATS server is currently up.
func (c *Conn) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}
