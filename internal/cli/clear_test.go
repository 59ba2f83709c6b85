package cli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/tabtime/internal/history"
)

func TestClear_WithoutAllFlag_Errors(t *testing.T) {
	cmd := &ClearCommand{globals: &GlobalFlags{}}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear requires --all flag for safety")
}

func TestClear_WithAllAndForce_Succeeds(t *testing.T) {
	adapter, store := openTestAdapter(t)
	seed(t, adapter, history.Segment{URL: "https://a.com", Title: "A", Start: testNow, Seconds: 5})

	cmd := &ClearCommand{All: true, Force: true, globals: &GlobalFlags{}, store: store}
	var err error
	output := captureOutput(t, func() {
		err = cmd.Execute(nil)
	})

	require.NoError(t, err)
	assert.Contains(t, output, "Cleared all history.")

	entries, err := store.ReadHistory(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClear_JSONOutput(t *testing.T) {
	_, store := openTestAdapter(t)

	cmd := &ClearCommand{All: true, Force: true, globals: &GlobalFlags{JSON: true}, store: store}
	var err error
	output := captureOutput(t, func() {
		err = cmd.Execute(nil)
	})
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &result), "output should be valid JSON: %s", output)
	assert.Equal(t, true, result["cleared"])
	assert.Equal(t, "all history deleted", result["message"])
}

func TestClear_ConfirmationAccepted(t *testing.T) {
	adapter, store := openTestAdapter(t)
	seed(t, adapter, history.Segment{URL: "https://a.com", Title: "A", Start: testNow, Seconds: 5})

	cmd := &ClearCommand{All: true, globals: &GlobalFlags{}, store: store, stdin: strings.NewReader("CLEAR\n")}
	var err error
	output := captureOutput(t, func() {
		err = cmd.Execute(nil)
	})

	require.NoError(t, err)
	assert.Contains(t, output, `Type "CLEAR" to confirm`)

	entries, err := store.ReadHistory(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClear_ConfirmationMismatchKeepsHistory(t *testing.T) {
	adapter, store := openTestAdapter(t)
	seed(t, adapter, history.Segment{URL: "https://a.com", Title: "A", Start: testNow, Seconds: 5})

	for name, input := range map[string]string{
		"wrong text": "yes\n",
		"no input":   "",
	} {
		t.Run(name, func(t *testing.T) {
			cmd := &ClearCommand{All: true, globals: &GlobalFlags{}, store: store, stdin: strings.NewReader(input)}
			var err error
			captureOutput(t, func() {
				err = cmd.Execute(nil)
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "aborted")

			entries, err := store.ReadHistory(context.Background())
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestClear_HistoryUsableAfterward(t *testing.T) {
	adapter, store := openTestAdapter(t)
	seed(t, adapter, history.Segment{URL: "https://a.com", Title: "A", Start: testNow, Seconds: 5})

	cmd := &ClearCommand{All: true, Force: true, globals: &GlobalFlags{}, store: store}
	captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	seed(t, adapter, history.Segment{URL: "https://b.com", Title: "B", Start: testNow.Add(time.Minute), Seconds: 7})
	entries, err := store.ReadHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://b.com", entries[0].URL)
}
