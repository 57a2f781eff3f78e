package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ExchangeLogger records chat exchanges for offline review.
type ExchangeLogger interface {
	Log(event ExchangeEvent)
	Close() error
}

// ExchangeEvent is one NDJSON audit record.
type ExchangeEvent struct {
	Timestamp      string         `json:"ts"`
	ConversationID string         `json:"conversation_id"`
	ClientID       string         `json:"client_id,omitempty"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Meta           map[string]any `json:"meta,omitempty"`
}

type noopExchangeLogger struct{}

func (noopExchangeLogger) Log(ExchangeEvent) {}
func (noopExchangeLogger) Close() error      { return nil }

// ExchangeLogConfig controls NDJSON exchange logging.
type ExchangeLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// FileExchangeLogger writes exchange events to per-conversation NDJSON
// files, with an optional combined global file. Writes happen on a single
// background goroutine; a full queue drops the event instead of blocking
// the chat path.
type FileExchangeLogger struct {
	cfg    ExchangeLogConfig
	logger *slog.Logger
	queue  chan ExchangeEvent
	done   chan struct{}
	wg     sync.WaitGroup
	global *os.File
}

// NewExchangeLogger creates an exchange logger. When both per-conversation
// and global logging are disabled it returns a no-op implementation.
func NewExchangeLogger(cfg ExchangeLogConfig, logger *slog.Logger) (ExchangeLogger, error) {
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return noopExchangeLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	l := &FileExchangeLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ExchangeEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create exchange log directory: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create global exchange log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open global exchange log: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues an event for writing. Never blocks.
func (l *FileExchangeLogger) Log(event ExchangeEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("exchange log queue full, dropping event",
			"conversation_id", event.ConversationID)
	}
}

func (l *FileExchangeLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *FileExchangeLogger) write(event ExchangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("failed to marshal exchange event", "error", err)
		return
	}
	data = append(data, '\n')

	if l.cfg.Enabled {
		path := filepath.Join(l.cfg.Dir, sanitizeLogName(event.ConversationID)+".ndjson")
		if err := appendToFile(path, data); err != nil {
			l.logger.Warn("failed to write exchange log", "path", path, "error", err)
		}
	}
	if l.global != nil {
		if _, err := l.global.Write(data); err != nil {
			l.logger.Warn("failed to write global exchange log", "error", err)
		}
	}
}

// Close flushes queued events and releases the global log file.
func (l *FileExchangeLogger) Close() error {
	close(l.done)
	l.wg.Wait()
	if l.global != nil {
		return l.global.Close()
	}
	return nil
}

func appendToFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// sanitizeLogName keeps conversation ids safe to use as file names.
func sanitizeLogName(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
