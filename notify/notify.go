// Package notify publishes frequency changes to redis. Publishing never
// blocks the caller: changes are queued, and dropped while the server is
// unreachable.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/jpillora/backoff"
	"github.com/platinasystems/log"
)

const (
	Timeout = 500 * time.Millisecond
	// queueLen is how many changes can wait for the publisher.
	queueLen = 16
	// maxBatch is how many queued changes go out in one round trip.
	maxBatch = 64
)

// Publisher sends each frequency to a redis channel as "<key>: <kHz>" and
// keeps the latest one in the hash named after the channel.
type Publisher struct {
	channel string
	key     string
	dial    func() (redis.Conn, error)
	now     func() time.Time

	c    chan uint32
	done chan struct{}

	// Owned by the publishing goroutine.
	conn  redis.Conn
	b     *backoff.Backoff
	retry time.Time

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// New starts a publisher for the redis server at addr. The connection is
// made lazily.
func New(addr, channel, key string) *Publisher {
	dial := func() (redis.Conn, error) {
		return redis.Dial("tcp", addr,
			redis.DialConnectTimeout(Timeout),
			redis.DialReadTimeout(Timeout),
			redis.DialWriteTimeout(Timeout))
	}
	p := newPublisher(channel, key, dial)
	go p.run()
	return p
}

func newPublisher(channel, key string, dial func() (redis.Conn, error)) *Publisher {
	return &Publisher{
		channel: channel,
		key:     key,
		dial:    dial,
		now:     time.Now,
		c:       make(chan uint32, queueLen),
		done:    make(chan struct{}),
		b: &backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    10 * time.Second,
			Factor: 2,
			Jitter: false,
		},
	}
}

// Notify queues freq for publishing. It drops freq if the queue is full or
// the publisher is closed.
func (p *Publisher) Notify(freq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.c <- freq:
	default:
		p.dropped++
	}
}

// Dropped returns how many changes were never published.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) drop(n int) {
	p.mu.Lock()
	p.dropped += uint64(n)
	p.mu.Unlock()
}

// Close publishes whatever is queued and disconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.c)
	p.mu.Unlock()
	<-p.done
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)
	defer func() {
		if p.conn != nil {
			p.conn.Close() // Ignore error
		}
	}()
	for {
		// block until next change
		f, opened := <-p.c
		if !opened {
			return
		}
		batch := []uint32{f}

	drain:
		for n := 1; n < maxBatch; n++ {
			select {
			case f, opened = <-p.c:
				if !opened {
					break drain
				}
				batch = append(batch, f)
			default:
				break drain
			}
		}
		p.publish(batch)
		if !opened {
			return
		}
	}
}

func (p *Publisher) connect() bool {
	if p.conn != nil {
		return true
	}
	now := p.now()
	if now.Before(p.retry) {
		return false
	}
	conn, err := p.dial()
	if err != nil {
		d := p.b.Duration()
		p.retry = now.Add(d)
		log.Printf("warn", "notify: couldn't connect, retrying in %v: %v", d, err)
		return false
	}
	p.b.Reset()
	p.conn = conn
	return true
}

func (p *Publisher) publish(batch []uint32) {
	if !p.connect() {
		p.drop(len(batch))
		return
	}
	for _, f := range batch {
		p.conn.Send("PUBLISH", p.channel, fmt.Sprintf("%s: %d", p.key, f))
	}
	p.conn.Send("HSET", p.channel, p.key, batch[len(batch)-1])
	if _, err := p.conn.Do(""); err != nil {
		log.Printf("err", "notify: couldn't publish: %v", err)
		p.conn.Close() // Ignore error
		p.conn = nil
		p.retry = p.now().Add(p.b.Duration())
		p.drop(len(batch))
	}
}
