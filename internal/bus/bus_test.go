package bus

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func reqID(id int64) *int64 { return &id }

func TestMarshalShape(t *testing.T) {
	n := Notification{
		Tags:    []string{"download", "metadata"},
		Request: reqID(42),
		Result:  true,
		Fields:  map[string]any{"experienceId": int64(228)},
	}
	payload, err := json.Marshal(n)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, []any{"download", "metadata"}, got["tags"])
	assert.Equal(t, float64(42), got["request"])
	assert.Equal(t, true, got["result"])
	assert.Equal(t, float64(228), got["experienceId"])
}

func TestMarshalOmitsRequestForStreamEvents(t *testing.T) {
	n := Notification{Tags: []string{"beat", "transport"}, Result: map[string]any{"beat": 1.5}}
	payload, err := json.Marshal(n)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	_, present := got["request"]
	assert.False(t, present, "unsolicited events carry no request field")
}

func TestNullResultSurvives(t *testing.T) {
	payload, err := json.Marshal(Notification{Tags: []string{"response"}, Result: nil})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"result":null`)
}

func TestPublishWithoutSinkDrops(t *testing.T) {
	b := New(testLogger())
	// Must not panic or block.
	b.Publish(Notification{Tags: []string{"x"}})
}

func TestCallbackSinkReceivesInOrder(t *testing.T) {
	b := New(testLogger())
	var mu sync.Mutex
	var got []string
	b.SetSink(NewCallbackSink(func(payload []byte) {
		var n struct {
			Result string `json:"result"`
		}
		require.NoError(t, json.Unmarshal(payload, &n))
		mu.Lock()
		got = append(got, n.Result)
		mu.Unlock()
	}))

	for _, r := range []string{"a", "b", "c"} {
		b.Publish(Notification{Tags: []string{"t"}, Result: r})
	}

	assert.Equal(t, []string{"a", "b", "c"}, got, "FIFO per publisher")
}

func TestSinkSwapAffectsOnlySubsequentPublishes(t *testing.T) {
	b := New(testLogger())
	var first, second int
	b.SetSink(NewCallbackSink(func([]byte) { first++ }))
	b.Publish(Notification{Tags: []string{"t"}})

	b.SetSink(NewCallbackSink(func([]byte) { second++ }))
	b.Publish(Notification{Tags: []string{"t"}})
	b.Publish(Notification{Tags: []string{"t"}})

	assert.Equal(t, 1, first, "no retroactive redelivery")
	assert.Equal(t, 2, second)
}

func TestConcurrentPublishersSafe(t *testing.T) {
	b := New(testLogger())
	var mu sync.Mutex
	count := 0
	b.SetSink(NewCallbackSink(func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish(Notification{Tags: []string{"t"}, Result: i})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, count)
}
