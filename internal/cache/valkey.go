package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey or Redis-compatible
// server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	// PoolSize caps idle connections kept for reuse.
	PoolSize int
	// KeyPrefix namespaces every key so several services can share a database.
	KeyPrefix string
}

func (c *ValkeyConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "mirador-flows:"
	}
}

// ValkeyProvider implements Provider over RESP with a small pool of reusable
// connections. Condition lookups for a whole account go out as one MGET.
type ValkeyProvider struct {
	cfg  ValkeyConfig
	idle chan *respConn

	mu     sync.Mutex
	closed bool
}

// NewValkeyProvider connects to cfg.Addr and pings it so bad credentials or
// an unreachable server fail at startup.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.applyDefaults()
	p := &ValkeyProvider{cfg: cfg, idle: make(chan *respConn, cfg.PoolSize)}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	if reply.text() != "PONG" {
		return nil, fmt.Errorf("valkey ping: unexpected reply %q", reply.text())
	}
	return p, nil
}

// Get returns the value for key or ErrCacheMiss.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", p.key(key))
	if err != nil {
		return nil, err
	}
	if reply.null {
		return nil, ErrCacheMiss
	}
	if reply.kind != '$' {
		return nil, fmt.Errorf("valkey GET: unexpected reply type %q", reply.kind)
	}
	return reply.data, nil
}

// GetMany fetches every key in a single MGET.
func (p *ValkeyProvider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]string, 0, len(keys)+1)
	args = append(args, "MGET")
	for _, key := range keys {
		args = append(args, p.key(key))
	}
	reply, err := p.do(ctx, args...)
	if err != nil {
		return nil, err
	}
	if reply.kind != '*' || len(reply.elems) != len(keys) {
		return nil, fmt.Errorf("valkey MGET: unexpected reply for %d keys", len(keys))
	}
	for i, elem := range reply.elems {
		if !elem.null {
			out[keys[i]] = elem.data
		}
	}
	return out, nil
}

// Set stores value with a millisecond TTL when ttl is positive.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", p.key(key), string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := p.do(ctx, args...)
	if err != nil {
		return err
	}
	if reply.text() != "OK" {
		return fmt.Errorf("valkey SET: unexpected reply %q", reply.text())
	}
	return nil
}

// Del removes keys.
func (p *ValkeyProvider) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]string, 0, len(keys)+1)
	args = append(args, "DEL")
	for _, key := range keys {
		args = append(args, p.key(key))
	}
	_, err := p.do(ctx, args...)
	return err
}

// Close closes every pooled connection. Later calls fail.
func (p *ValkeyProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.drainIdle()
	return nil
}

func (p *ValkeyProvider) key(k string) string {
	return p.cfg.KeyPrefix + k
}

// do runs one command. A failure on a pooled connection is retried on a
// fresh one; dial and I/O timeouts are retried with backoff up to MaxRetries.
func (p *ValkeyProvider) do(ctx context.Context, args ...string) (respValue, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return respValue{}, err
		}
		conn, reused, err := p.acquire(ctx)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				return respValue{}, err
			}
			sleepBackoff(ctx, attempt)
			continue
		}
		reply, err := conn.roundTrip(ctx, p.cfg, args)
		var serverErr respError
		if err == nil || errors.As(err, &serverErr) {
			p.release(conn)
			return reply, err
		}
		conn.close()
		lastErr = err
		if reused {
			p.drainIdle()
			continue
		}
		if !retryable(err) {
			return respValue{}, err
		}
		sleepBackoff(ctx, attempt)
	}
	return respValue{}, lastErr
}

func (p *ValkeyProvider) acquire(ctx context.Context) (*respConn, bool, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, false, errors.New("valkey provider closed")
	}
	select {
	case conn := <-p.idle:
		return conn, true, nil
	default:
	}
	conn, err := p.dial(ctx)
	return conn, false, err
}

// drainIdle closes every pooled connection.
func (p *ValkeyProvider) drainIdle() {
	for {
		select {
		case conn := <-p.idle:
			conn.close()
		default:
			return
		}
	}
}

func (p *ValkeyProvider) release(conn *respConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		conn.close()
		return
	}
	select {
	case p.idle <- conn:
	default:
		conn.close()
	}
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()

	var (
		raw net.Conn
		err error
	)
	if p.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(p.cfg.Addr)
		if splitErr != nil {
			host = p.cfg.Addr
		}
		dialer := &tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
		raw, err = dialer.DialContext(dialCtx, "tcp", p.cfg.Addr)
	} else {
		var dialer net.Dialer
		raw, err = dialer.DialContext(dialCtx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}

	conn := &respConn{conn: raw, rw: bufio.NewReadWriter(bufio.NewReader(raw), bufio.NewWriter(raw))}
	if err := p.handshake(ctx, conn); err != nil {
		conn.close()
		return nil, err
	}
	return conn, nil
}

func (p *ValkeyProvider) handshake(ctx context.Context, conn *respConn) error {
	if p.cfg.Password != "" {
		args := []string{"AUTH", p.cfg.Password}
		if p.cfg.Username != "" {
			args = []string{"AUTH", p.cfg.Username, p.cfg.Password}
		}
		reply, err := conn.roundTrip(ctx, p.cfg, args)
		if err != nil {
			return fmt.Errorf("valkey auth: %w", err)
		}
		if reply.text() != "OK" {
			return fmt.Errorf("valkey auth: unexpected reply %q", reply.text())
		}
	}
	if p.cfg.DB > 0 {
		reply, err := conn.roundTrip(ctx, p.cfg, []string{"SELECT", strconv.Itoa(p.cfg.DB)})
		if err != nil {
			return fmt.Errorf("valkey select: %w", err)
		}
		if reply.text() != "OK" {
			return fmt.Errorf("valkey select: unexpected reply %q", reply.text())
		}
	}
	return nil
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepBackoff(ctx context.Context, attempt int) {
	timer := time.NewTimer(time.Duration(1<<attempt) * 25 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// respValue is a decoded RESP2 reply.
type respValue struct {
	kind  byte
	data  []byte
	elems []respValue
	null  bool
}

func (v respValue) text() string {
	return string(v.data)
}

// respError is an error reply sent by the server.
type respError string

func (e respError) Error() string { return "valkey: " + string(e) }

type respConn struct {
	conn net.Conn
	rw   *bufio.ReadWriter
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) roundTrip(ctx context.Context, cfg ValkeyConfig, args []string) (respValue, error) {
	now := time.Now()
	writeBy, readBy := now.Add(cfg.WriteTimeout), now.Add(cfg.WriteTimeout+cfg.ReadTimeout)
	if deadline, ok := ctx.Deadline(); ok {
		if deadline.Before(writeBy) {
			writeBy = deadline
		}
		if deadline.Before(readBy) {
			readBy = deadline
		}
	}
	if err := c.conn.SetWriteDeadline(writeBy); err != nil {
		return respValue{}, err
	}
	if err := c.writeCommand(args); err != nil {
		return respValue{}, err
	}
	if err := c.conn.SetReadDeadline(readBy); err != nil {
		return respValue{}, err
	}
	return c.readValue()
}

func (c *respConn) writeCommand(args []string) error {
	buf := make([]byte, 0, 64)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, arg := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(arg)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, arg...)
		buf = append(buf, '\r', '\n')
	}
	if _, err := c.rw.Write(buf); err != nil {
		return err
	}
	return c.rw.Flush()
}

func (c *respConn) readValue() (respValue, error) {
	kind, err := c.rw.ReadByte()
	if err != nil {
		return respValue{}, err
	}
	line, err := c.readLine()
	if err != nil {
		return respValue{}, err
	}
	switch kind {
	case '+', ':':
		return respValue{kind: kind, data: line}, nil
	case '-':
		return respValue{}, respError(line)
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respValue{}, fmt.Errorf("valkey: bad bulk length %q", line)
		}
		if size < 0 {
			return respValue{kind: kind, null: true}, nil
		}
		payload := make([]byte, size+2)
		if _, err := io.ReadFull(c.rw, payload); err != nil {
			return respValue{}, err
		}
		if payload[size] != '\r' || payload[size+1] != '\n' {
			return respValue{}, errors.New("valkey: bulk string not CRLF terminated")
		}
		return respValue{kind: kind, data: payload[:size]}, nil
	case '*':
		count, err := strconv.Atoi(string(line))
		if err != nil {
			return respValue{}, fmt.Errorf("valkey: bad array length %q", line)
		}
		if count < 0 {
			return respValue{kind: kind, null: true}, nil
		}
		elems := make([]respValue, 0, count)
		for i := 0; i < count; i++ {
			elem, err := c.readValue()
			if err != nil {
				return respValue{}, err
			}
			elems = append(elems, elem)
		}
		return respValue{kind: kind, elems: elems}, nil
	default:
		return respValue{}, fmt.Errorf("valkey: unexpected RESP prefix %q", kind)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.rw.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errors.New("valkey: line not CRLF terminated")
	}
	return append([]byte(nil), line[:len(line)-2]...), nil
}
