/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package logging configures the process-wide logrus logger.
//
// Entries logged before the configuration is known are buffered and replayed
// once FlushLogs decides where output goes.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log/term"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/saedplatform/portal/param"
)

// BufferedLogHook buffers log entries until they are flushed
type BufferedLogHook struct {
	mu      sync.Mutex
	entries []*log.Entry
	flushed atomic.Bool
}

var (
	bufferedHook atomic.Pointer[BufferedLogHook]
	flushOnce    sync.Once
	logFHandle   *os.File
)

// ResetLogFlush lets unit tests flush more than once per process.
func ResetLogFlush() {
	flushOnce = sync.Once{}
	bufferedHook.Store(nil)
}

func NewBufferedLogHook() *BufferedLogHook {
	return &BufferedLogHook{
		entries: make([]*log.Entry, 0),
	}
}

// Fire is called on every log entry
func (hook *BufferedLogHook) Fire(entry *log.Entry) error {
	if hook.flushed.Load() {
		return nil
	}
	hook.mu.Lock()
	hook.entries = append(hook.entries, entry)
	hook.mu.Unlock()
	return nil
}

func (hook *BufferedLogHook) Levels() []log.Level {
	return log.AllLevels
}

// SetupLogBuffering discards direct output and starts buffering entries
// until FlushLogs is called.
func SetupLogBuffering() {
	log.SetOutput(io.Discard)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		DisableColors: true,
	})

	hook := NewBufferedLogHook()
	if bufferedHook.CompareAndSwap(nil, hook) {
		log.AddHook(hook)
	}
}

// FlushLogs replays the buffered entries and switches to direct logging.
// When pushToFile is set and cfg names a log file, output is appended to that
// file; otherwise it goes to stderr.
func FlushLogs(cfg param.LoggingConfig, pushToFile bool) error {
	var flushErr error
	flushOnce.Do(func() {
		hook := bufferedHook.Load()
		if hook != nil {
			hook.flushed.Store(true)
		}

		if pushToFile && cfg.LogLocation != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.LogLocation), 0750); err != nil {
				flushErr = errors.Wrap(err, "failed to access/create the log directory")
				return
			}
			f, err := os.OpenFile(cfg.LogLocation, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
			if err != nil {
				flushErr = errors.Wrap(err, "failed to access the log file")
				return
			}
			logFHandle = f
			fmt.Fprintf(os.Stderr, "Logging.LogLocation is set to %s. All logs are redirected to the log file.\n", cfg.LogLocation)
			log.SetOutput(f)
			log.SetFormatter(&log.TextFormatter{
				FullTimestamp:          true,
				DisableColors:          true,
				DisableLevelTruncation: true,
			})
		} else {
			log.SetOutput(os.Stderr)
			log.SetFormatter(&log.TextFormatter{
				FullTimestamp:          true,
				ForceColors:            term.IsTerminal(log.StandardLogger().Out),
				DisableLevelTruncation: true,
			})
		}

		if hook != nil {
			hook.mu.Lock()
			for _, entry := range hook.entries {
				if formatted, err := entry.String(); err == nil {
					_, _ = log.StandardLogger().Out.Write([]byte(formatted))
				}
			}
			hook.entries = nil
			hook.mu.Unlock()
			log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
		}
	})
	return flushErr
}

// CloseLogger closes the log file opened by FlushLogs, if any.  Only tests
// need this.
func CloseLogger() {
	if logFHandle != nil {
		_ = logFHandle.Close()
		logFHandle = nil
	}
}

// ConfigureLevel sets the logger level from Logging.Level; Debug forces the
// debug level regardless.
func ConfigureLevel(cfg *param.Config) error {
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		return nil
	}
	name := strings.TrimSpace(cfg.Logging.Level)
	if name == "" {
		name = "info"
	}
	level, err := log.ParseLevel(name)
	if err != nil {
		return errors.Wrapf(err, "invalid Logging.Level %q", cfg.Logging.Level)
	}
	log.SetLevel(level)
	return nil
}
