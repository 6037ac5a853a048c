package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/voyager-cli/internal/config"
)

func TestSelectorFor(t *testing.T) {
	assert.Equal(t, `[data-voyager-index="7"]`, selectorFor(7))
	assert.Equal(t, `[data-voyager-index="0"]`, selectorFor(0))
}

func TestCombineContext_CallerCancelPropagates(t *testing.T) {
	defer goleak.VerifyNone(t)

	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()

	callCtx, callCancel := context.WithCancel(context.Background())

	combined, cancel := combineContext(tabCtx, callCtx)
	defer cancel()

	require.NoError(t, combined.Err())
	callCancel()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not observe caller cancellation")
	}
	// The tab context stays live; only the derived context ends.
	assert.NoError(t, tabCtx.Err())
}

func TestCombineContext_TabCancelPropagates(t *testing.T) {
	defer goleak.VerifyNone(t)

	tabCtx, tabCancel := context.WithCancel(context.Background())

	callCtx, callCancel := context.WithCancel(context.Background())
	defer callCancel()

	combined, cancel := combineContext(tabCtx, callCtx)
	defer cancel()

	tabCancel()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not observe tab cancellation")
	}
}

func TestCombineContext_CancelReleasesWatcher(t *testing.T) {
	defer goleak.VerifyNone(t)

	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()

	_, cancel := combineContext(tabCtx, context.Background())
	cancel()
	// goleak confirms the watcher goroutine exits once the combined
	// context is canceled, even though neither parent ever ends.
}

func TestSessionClose_CancelsExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	tabCtx, tabCancel := context.WithCancel(context.Background())

	cancels := 0
	counting := func() {
		cancels++
		tabCancel()
	}

	s := newSession(tabCtx, counting, config.BrowserConfig{}, zaptest.NewLogger(t))
	require.NotEmpty(t, s.ID())

	// The first Close reports the teardown failure of the detached context.
	err := s.Close(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, cancels)

	// Repeat calls are no-ops and succeed.
	assert.NoError(t, s.Close(context.Background()))
	assert.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, cancels)
}

func TestIsStaleContext(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"destroyed context", errors.New("Execution context was destroyed"), true},
		{"missing context id", errors.New("cannot find context with specified id"), true},
		{"navigated target", errors.New("inspected target navigated or closed"), true},
		{"missing node", errors.New("could not find node with given id"), true},
		{"wrapped", errors.New("annotation pass failed: execution context was destroyed"), true},
		{"unrelated", errors.New("net::ERR_CONNECTION_REFUSED"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsStaleContext(tc.err))
		})
	}
}
