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

package test_utils

import (
	"context"
	"io"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TestContext derives a context bounded by the test deadline, plus an
// errgroup tied to it.
func TestContext(ictx context.Context, t *testing.T) (ctx context.Context, cancel context.CancelFunc, egrp *errgroup.Group) {
	if deadline, ok := t.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ictx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ictx)
	}
	egrp, ctx = errgroup.WithContext(ctx)
	return
}

type testLogHook struct {
	mu      sync.Mutex
	t       *testing.T
	entries []string
}

func (h *testLogHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *testLogHook) Fire(entry *log.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.entries = append(h.entries, line)
	h.mu.Unlock()
	return nil
}

// SetupTestLogging captures log output for the duration of a test and only
// replays it through t.Log when the test fails.  The returned function
// restores the previous logger state.
func SetupTestLogging(t *testing.T) func() {
	logger := log.StandardLogger()
	origOut := logger.Out
	origHooks := make(log.LevelHooks)
	for level, hooks := range logger.Hooks {
		origHooks[level] = append([]log.Hook(nil), hooks...)
	}

	hook := &testLogHook{t: t}
	logger.SetOutput(io.Discard)
	logger.ReplaceHooks(make(log.LevelHooks))
	logger.AddHook(hook)

	return func() {
		if t.Failed() {
			hook.mu.Lock()
			for _, line := range hook.entries {
				t.Log(line)
			}
			hook.mu.Unlock()
		}
		logger.SetOutput(origOut)
		logger.ReplaceHooks(origHooks)
	}
}
