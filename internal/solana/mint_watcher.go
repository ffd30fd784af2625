package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Mint Watcher — real-time token creation detection via logsSubscribe
// Subscribes to the token programs and launchpads to spot fresh mints whose
// creator wallets are worth scanning.
// ---------------------------------------------------------------------------

// MintWatcherConfig configures the WebSocket mint watcher.
type MintWatcherConfig struct {
	WSEndpoint       string   `yaml:"ws_endpoint"`
	ProgramIDs       []string `yaml:"program_ids"` // programs whose logs to watch
	ReconnectDelayMs int      `yaml:"reconnect_delay_ms"`
	PingIntervalS    int      `yaml:"ping_interval_s"`
}

// DefaultMintWatcherConfig returns defaults for mainnet monitoring.
func DefaultMintWatcherConfig() MintWatcherConfig {
	return MintWatcherConfig{
		WSEndpoint: "wss://api.mainnet-beta.solana.com",
		ProgramIDs: []string{
			string(PumpFunProgramID),
			string(TokenProgramID),
		},
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
	}
}

// MintEvent is emitted when a mint creation is observed in program logs.
// The creator wallet is not part of the notification; callers resolve it by
// fetching the transaction and taking the fee payer.
type MintEvent struct {
	Signature  Signature `json:"signature"`
	Slot       uint64    `json:"slot"`
	Logs       []string  `json:"logs"`
	Source     string    `json:"source"` // pumpfun|spl-token|unknown
	DetectedAt time.Time `json:"detected_at"`
}

// MintWatcher monitors Solana WebSocket logs for token creation events.
type MintWatcher struct {
	config MintWatcherConfig

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed atomic.Bool

	eventChan chan MintEvent
	nextSubID atomic.Int64

	// Stats.
	messagesRecv  atomic.Int64
	mintsDetected atomic.Int64
	reconnects    atomic.Int64
	connected     atomic.Bool
}

// NewMintWatcher creates a new WebSocket mint watcher.
func NewMintWatcher(config MintWatcherConfig) *MintWatcher {
	if config.WSEndpoint == "" {
		config.WSEndpoint = DefaultMintWatcherConfig().WSEndpoint
	}
	if len(config.ProgramIDs) == 0 {
		config.ProgramIDs = DefaultMintWatcherConfig().ProgramIDs
	}
	if config.ReconnectDelayMs <= 0 {
		config.ReconnectDelayMs = 1000
	}
	return &MintWatcher{
		config:    config,
		eventChan: make(chan MintEvent, 256),
	}
}

// Start connects and begins monitoring. Returns the event channel; the
// watcher reconnects with backoff until ctx is cancelled, then closes it.
func (w *MintWatcher) Start(ctx context.Context) <-chan MintEvent {
	go w.runLoop(ctx)
	return w.eventChan
}

func (w *MintWatcher) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: watcher loop panic recovered")
		}
		// Acquire the write lock to synchronize with handleMessage's send.
		w.mu.Lock()
		if w.closed.CompareAndSwap(false, true) {
			close(w.eventChan)
		}
		w.mu.Unlock()
	}()

	delay := time.Duration(w.config.ReconnectDelayMs) * time.Millisecond
	const maxDelay = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			w.disconnect()
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			log.Warn().Err(err).Msg("ws: connection failed")
			w.reconnects.Add(1)
			select {
			case <-time.After(delay):
				delay *= 2
				if delay > maxDelay {
					delay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		delay = time.Duration(w.config.ReconnectDelayMs) * time.Millisecond

		for _, programID := range w.config.ProgramIDs {
			if err := w.subscribe(programID); err != nil {
				log.Warn().Err(err).Str("program", shortAddr(programID)).Msg("ws: subscribe failed")
			}
		}

		w.readLoop(ctx)
	}
}

func (w *MintWatcher) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.connected.Store(true)

	log.Info().Str("endpoint", w.config.WSEndpoint).Msg("ws: connected")
	return nil
}

func (w *MintWatcher) disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected.Store(false)
}

// subscribe sends a logsSubscribe request for a program.
func (w *MintWatcher) subscribe(programID string) error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      w.nextSubID.Add(1),
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{programID}},
			map[string]any{"commitment": "confirmed"},
		},
	}

	w.mu.Lock()
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return fmt.Errorf("ws: not connected")
	}
	err := conn.WriteJSON(req)
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}

	log.Info().Str("program", shortAddr(programID)).Msg("ws: subscribed to program logs")
	return nil
}

func (w *MintWatcher) readLoop(ctx context.Context) {
	pingInterval := time.Duration(w.config.PingIntervalS) * time.Second
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("ws: ping failed")
					return
				}
			}
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("ws: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("ws: read error, reconnecting")
			}
			w.connected.Store(false)
			return
		}

		w.messagesRecv.Add(1)
		w.handleMessage(message)
	}
}

func (w *MintWatcher) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: handleMessage panic recovered")
		}
	}()

	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Signature string   `json:"signature"`
					Logs      []string `json:"logs"`
				} `json:"value"`
				Context struct {
					Slot uint64 `json:"slot"`
				} `json:"context"`
			} `json:"result"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}

	if notification.Method != "logsNotification" {
		var subResp struct {
			Result int `json:"result"`
		}
		if json.Unmarshal(data, &subResp) == nil && subResp.Result > 0 {
			log.Debug().Int("sub_id", subResp.Result).Msg("ws: subscription confirmed")
		}
		return
	}

	logs := notification.Params.Result.Value.Logs
	sig := notification.Params.Result.Value.Signature
	slot := notification.Params.Result.Context.Slot

	if !isMintCreationEvent(logs) {
		return
	}

	event := MintEvent{
		Signature:  Signature(sig),
		Slot:       slot,
		Logs:       logs,
		Source:     mintSourceFromLogs(logs),
		DetectedAt: time.Now(),
	}

	w.mintsDetected.Add(1)

	// Synchronize the channel send with close to prevent a
	// send-on-closed-channel panic.
	w.mu.RLock()
	if !w.closed.Load() {
		select {
		case w.eventChan <- event:
			log.Info().
				Str("sig", shortAddr(sig)).
				Str("source", event.Source).
				Uint64("slot", slot).
				Msg("ws: new mint detected")
		default:
			log.Warn().Msg("ws: event channel full, dropping mint event")
		}
	}
	w.mu.RUnlock()
}

// isMintCreationEvent checks logs for mint initialization markers.
func isMintCreationEvent(logs []string) bool {
	for _, l := range logs {
		if strings.Contains(l, "InitializeMint") {
			return true
		}
	}
	return false
}

// mintSourceFromLogs classifies which program drove the creation.
func mintSourceFromLogs(logs []string) string {
	for _, l := range logs {
		if strings.Contains(l, string(PumpFunProgramID)) {
			return "pumpfun"
		}
	}
	for _, l := range logs {
		if strings.Contains(l, string(TokenProgramID)) || strings.Contains(l, string(Token2022ProgramID)) {
			return "spl-token"
		}
	}
	return "unknown"
}

func shortAddr(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// WatcherStats returns watcher statistics.
type WatcherStats struct {
	Connected     bool  `json:"connected"`
	MessagesRecv  int64 `json:"messages_recv"`
	MintsDetected int64 `json:"mints_detected"`
	Reconnects    int64 `json:"reconnects"`
}

func (w *MintWatcher) Stats() WatcherStats {
	return WatcherStats{
		Connected:     w.connected.Load(),
		MessagesRecv:  w.messagesRecv.Load(),
		MintsDetected: w.mintsDetected.Load(),
		Reconnects:    w.reconnects.Load(),
	}
}
