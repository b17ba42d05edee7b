// Package twitch keeps an anonymous read connection to Twitch chat alive and
// turns the incoming stream into chat messages.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"citrine/pkg/irc"

	"go.uber.org/zap"
)

const (
	readChunk    = 4096
	writeTimeout = 10 * time.Second
	dialTimeout  = 15 * time.Second
)

var ErrNotConnected = errors.New("twitch: not connected")

// DialFunc opens the raw socket. Tests swap it for a loopback listener.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Options struct {
	Address      string
	Channel      string
	PollInterval time.Duration
	LoginTimeout time.Duration
	ClosedDelay  time.Duration
	ErrorDelay   time.Duration
	PongToken    string

	Dial   DialFunc
	Now    func() time.Time
	Logger *zap.Logger
}

// Conn owns the socket and the unparsed remainder of the stream. Every
// method takes mu, so concurrent callers are served one at a time.
type Conn struct {
	opts Options
	log  *zap.Logger
	now  func() time.Time
	dial DialFunc

	mu           sync.Mutex
	conn         net.Conn
	partial      []byte
	loginOK      bool
	loginStarted time.Time
	nick         string
	connects     int
}

func NewConn(opts Options) *Conn {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second / 60
	}
	if opts.PongToken == "" {
		opts.PongToken = "tmi.twitch.tv"
	}
	c := &Conn{
		opts: opts,
		log:  opts.Logger,
		now:  opts.Now,
		dial: opts.Dial,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.dial == nil {
		d := &net.Dialer{Timeout: dialTimeout}
		c.dial = d.DialContext
	}
	return c
}

// Connect drops any existing socket and performs a fresh anonymous login.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// Reconnect waits delay, then connects again with the same channel.
func (c *Conn) Reconnect(ctx context.Context, delay time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectLocked(ctx, delay)
}

// Close shuts the socket. A later receive reconnects.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Nick returns the anonymous nick of the current session.
func (c *Conn) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// Connects counts successful connects, the first one included.
func (c *Conn) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *Conn) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.partial = nil
	c.loginOK = false

	c.log.Info("Connecting to Twitch", zap.String("address", c.opts.Address))
	conn, err := c.dial(ctx, "tcp", c.opts.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.Address, err)
	}

	nick := fmt.Sprintf("justinfan%d", 10000+rand.IntN(90000))
	login, err := irc.Login("asdf", nick)
	if err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.nick = nick
	if err := c.sendLocked(login); err != nil {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("login handshake: %w", err)
	}

	c.loginStarted = c.now()
	c.connects++
	c.log.Info("Connected to Twitch, logging in anonymously", zap.String("nick", nick), zap.Int("connects", c.connects))
	return nil
}

func (c *Conn) reconnectLocked(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return c.connectLocked(ctx)
}

// retry reconnects after delay and only logs a failure; the next receive
// will try again.
func (c *Conn) retry(ctx context.Context, delay time.Duration) {
	if err := c.reconnectLocked(ctx, delay); err != nil && ctx.Err() == nil {
		c.log.Error("Reconnect failed", zap.Duration("delay", delay), zap.Error(err))
	}
}

func (c *Conn) sendLocked(line []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(line)
	return err
}

// ReceiveAvailable drains whatever the socket has right now and returns the
// complete frames in it. An empty result is normal: it means no data, or
// that the connection was lost and has been re-established.
func (c *Conn) ReceiveAvailable(ctx context.Context) []irc.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiveLocked(ctx)
}

func (c *Conn) receiveLocked(ctx context.Context) []irc.Frame {
	if c.conn == nil {
		c.retry(ctx, c.opts.ErrorDelay)
		return nil
	}

	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PollInterval)); err != nil {
			c.log.Warn("Unexpected connection error, reconnecting", zap.Error(err))
			c.retry(ctx, c.opts.ErrorDelay)
			return nil
		}
		n, err := c.conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err == nil {
			if n == 0 {
				c.log.Warn("Connection closed by Twitch, reconnecting", zap.Duration("delay", c.opts.ClosedDelay))
				c.retry(ctx, c.opts.ClosedDelay)
				return nil
			}
			continue
		}

		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
		case errors.Is(err, io.EOF):
			c.log.Warn("Connection closed by Twitch, reconnecting", zap.Duration("delay", c.opts.ClosedDelay))
			c.retry(ctx, c.opts.ClosedDelay)
			return nil
		default:
			c.log.Warn("Unexpected connection error, reconnecting", zap.Duration("delay", c.opts.ErrorDelay), zap.Error(err))
			c.retry(ctx, c.opts.ErrorDelay)
			return nil
		}
		break
	}

	if len(buf) == 0 {
		return nil
	}

	frames, rest, skipped := irc.Parse(append(c.partial, buf...))
	c.partial = rest
	if skipped > 0 {
		c.log.Warn("Discarded unparseable bytes", zap.Int("bytes", skipped))
	}
	return frames
}
