package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jpillora/sizestr"
)

// Stats снимок счётчиков транспорта.
type Stats struct {
	Connections   int64 // успешные открытия
	Open          bool
	BytesSent     int64
	BytesReceived int64
}

type connStats struct {
	count    atomic.Int64
	open     atomic.Bool
	sent     atomic.Int64
	received atomic.Int64

	// на одно соединение, владеет воркер
	openedAt  time.Time
	connSent  int64
	connRecvd int64
}

func (c *connStats) opened() int64 {
	c.open.Store(true)
	c.openedAt = time.Now()
	c.connSent, c.connRecvd = 0, 0
	return c.count.Add(1)
}

func (c *connStats) closed() {
	c.open.Store(false)
}

func (c *connStats) wrote(n int) {
	c.connSent += int64(n)
	c.sent.Add(int64(n))
}

func (c *connStats) read(n int) {
	c.connRecvd += int64(n)
	c.received.Add(int64(n))
}

// summary описание закрываемого соединения.
func (c *connStats) summary() string {
	return fmt.Sprintf("#%d up %s (sent %s received %s)",
		c.count.Load(),
		time.Since(c.openedAt).Round(time.Millisecond),
		sizestr.ToString(c.connSent),
		sizestr.ToString(c.connRecvd))
}

func (c *connStats) snapshot() Stats {
	return Stats{
		Connections:   c.count.Load(),
		Open:          c.open.Load(),
		BytesSent:     c.sent.Load(),
		BytesReceived: c.received.Load(),
	}
}
