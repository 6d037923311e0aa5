package logging

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bartossh/Courier/logger"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel returns level for its name, info for unknown names.
func ParseLevel(s string) Level {
	for i, n := range levelNames {
		if n == s {
			return Level(i)
		}
	}
	return LevelInfo
}

// Helper helps with writing logs to io.Writers.
// Helper implements logger.Logger interface.
// Writing is done concurrently with out blocking the current thread.
type Helper struct {
	callOnErr   func(error)
	callOnFatal func(error)
	writers     []io.Writer
	component   string
	min         Level
	wg          *sync.WaitGroup
}

// New creates new Helper writing every level.
func New(callOnErr, callOnFatal func(error), writers ...io.Writer) Helper {
	return Helper{callOnErr: callOnErr, callOnFatal: callOnFatal, writers: writers, wg: &sync.WaitGroup{}}
}

// WithLevel returns copy of the Helper skipping logs below the level.
func (h Helper) WithLevel(l Level) Helper {
	h.min = l
	return h
}

// WithComponent returns copy of the Helper tagging logs with the component name.
func (h Helper) WithComponent(name string) Helper {
	h.component = name
	return h
}

// Wait blocks until all scheduled writes are finished.
func (h Helper) Wait() {
	h.wg.Wait()
}

// Debug writes debug log.
func (h Helper) Debug(msg string) {
	h.write(LevelDebug, msg)
}

// Info writes info log.
func (h Helper) Info(msg string) {
	h.write(LevelInfo, msg)
}

// Warn writes warning log.
func (h Helper) Warn(msg string) {
	h.write(LevelWarn, msg)
}

// Error writes error log.
func (h Helper) Error(msg string) {
	h.write(LevelError, msg)
}

// Fatal writes fatal log and calls the fatal callback once the log is written.
func (h Helper) Fatal(msg string) {
	h.write(LevelFatal, msg)
	h.Wait()
	if h.callOnFatal != nil {
		h.callOnFatal(&FatalError{Msg: msg})
	}
}

// FatalError is passed to the fatal callback.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Msg
}

func (h Helper) write(level Level, msg string) {
	if level < h.min {
		return
	}
	l := logger.Log{
		ID:        primitive.NewObjectID(),
		CreatedAt: time.Now(),
		Level:     level.String(),
		Component: h.component,
		Msg:       msg,
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		raw, err := json.Marshal(l)
		if err != nil {
			h.onErr(err)
			return
		}
		for _, w := range h.writers {
			if _, err := w.Write(raw); err != nil {
				h.onErr(err)
			}
		}
	}()
}

func (h Helper) onErr(err error) {
	if h.callOnErr != nil {
		h.callOnErr(err)
	}
}
