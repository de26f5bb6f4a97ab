// Package marketdata conecta feeds push de top of book al snapshot cache.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 20 * time.Second
	maxBackoff          = 30 * time.Second
	baseBackoff         = 500 * time.Millisecond
)

// Message es una actualización del feed. bid/ask en unidades de quote por base.
type Message struct {
	Instrument string          `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Timestamp  int64           `json:"timestamp"` // unix millis
	Source     string          `json:"source"`
}

type subscribeMessage struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

// Feed mantiene una conexión websocket y reconecta con backoff exponencial.
// Mientras está caído los snapshots simplemente envejecen.
type Feed struct {
	url         string
	instruments []string
	sink        ports.SnapshotSink
	header      http.Header

	ReadTimeout  time.Duration
	PingInterval time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	accepted atomic.Int64
	dropped  atomic.Int64
}

// NewFeed crea el feed. instruments se envía en el subscribe inicial.
func NewFeed(url string, instruments []string, sink ports.SnapshotSink) *Feed {
	return &Feed{
		url:          url,
		instruments:  instruments,
		sink:         sink,
		header:       make(http.Header),
		ReadTimeout:  defaultReadTimeout,
		PingInterval: defaultPingInterval,
	}
}

// WithHeader añade una cabecera al handshake (p.ej. X-API-Key).
func (f *Feed) WithHeader(key, value string) *Feed {
	f.header.Set(key, value)
	return f
}

// Run conecta y procesa mensajes hasta que ctx termina.
func (f *Feed) Run(ctx context.Context) error {
	retry := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := f.connect(ctx); err != nil {
			delay := backoff(retry)
			slog.Warn("marketdata: connect failed", "url", f.url, "err", err, "retry", retry, "delay", delay)
			retry++
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		f.process(ctx)
	}
}

// Stats devuelve cuántos mensajes aceptó y descartó el sink.
func (f *Feed) Stats() (accepted, dropped int64) {
	return f.accepted.Load(), f.dropped.Load()
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	sub, _ := json.Marshal(subscribeMessage{Type: "subscribe", Instruments: f.instruments})
	if err := f.write(websocket.TextMessage, sub); err != nil {
		f.close()
		return fmt.Errorf("subscribe: %w", err)
	}

	if f.PingInterval > 0 {
		go f.pingLoop(ctx, conn)
	}
	slog.Info("marketdata: connected", "url", f.url, "instruments", len(f.instruments))
	return nil
}

func (f *Feed) process(ctx context.Context) {
	// Desbloquea ReadMessage al cancelar.
	stop := context.AfterFunc(ctx, f.close)
	defer stop()

	for {
		f.mu.Lock()
		c := f.conn
		f.mu.Unlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("marketdata: read error", "url", f.url, "err", err)
			}
			f.close()
			return
		}
		f.handle(msg)
	}
}

func (f *Feed) handle(raw []byte) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Debug("marketdata: unparseable message", "err", err)
		f.dropped.Add(1)
		return
	}
	if m.Instrument == "" {
		// heartbeat / ack del subscribe
		return
	}
	if f.sink.Update(m.Snapshot()) {
		f.accepted.Add(1)
	} else {
		f.dropped.Add(1)
	}
}

// Snapshot convierte el mensaje al snapshot del dominio.
func (m Message) Snapshot() domain.Snapshot {
	src := m.Source
	if src == "" {
		src = "ws"
	}
	var ts time.Time
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp).UTC()
	}
	return domain.Snapshot{
		Instrument: m.Instrument,
		Bid:        m.Bid,
		Ask:        m.Ask,
		Timestamp:  ts,
		Source:     src,
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			current := f.conn
			f.mu.Unlock()
			if current != conn {
				return
			}
			if err := f.write(websocket.PingMessage, nil); err != nil {
				slog.Warn("marketdata: ping failed", "err", err)
				f.close()
				return
			}
		}
	}
}

func (f *Feed) write(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	c := f.conn
	f.mu.Unlock()
	if c == nil {
		return fmt.Errorf("marketdata: not connected")
	}
	return c.WriteMessage(msgType, data)
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

func backoff(retry int) time.Duration {
	if retry > 10 {
		return maxBackoff
	}
	return min(time.Duration(math.Pow(2, float64(retry)))*baseBackoff, maxBackoff)
}
