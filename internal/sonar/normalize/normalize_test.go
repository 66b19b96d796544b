package normalize

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type panicky struct{}

func (panicky) String() string { panic("boom") }

type named struct{ Name string }

func (n named) String() string { return "named:" + n.Name }

type node struct {
	Next *node
}

func TestValue_Scalars(t *testing.T) {
	assert.Nil(t, Value(nil))
	assert.Equal(t, "text", Value("text"))
	assert.Equal(t, 42, Value(42))
	assert.Equal(t, 1.5, Value(1.5))
	assert.Equal(t, true, Value(true))
}

func TestValue_Decimals(t *testing.T) {
	assert.Equal(t, 12.5, Value(json.Number("12.5")))
	assert.Equal(t, 0.25, Value(big.NewRat(1, 4)))
	assert.Equal(t, float64(7), Value(big.NewInt(7)))
}

func TestValue_NonFiniteFloats(t *testing.T) {
	assert.Equal(t, "NaN", Value(math.NaN()))
	assert.Equal(t, "+Inf", Value(math.Inf(1)))
}

func TestValue_TimeAndUUID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-15T10:30:00Z", Value(ts))
	assert.Equal(t, "1.5s", Value(1500*time.Millisecond))

	id := uuid.MustParse("12345678-1234-5678-1234-567812345678")
	assert.Equal(t, "12345678-1234-5678-1234-567812345678", Value(id))
}

func TestValue_Bytes(t *testing.T) {
	assert.Equal(t, "hello", Value([]byte("hello")))
	assert.Equal(t, "a\uFFFDb", Value([]byte{'a', 0xff, 'b'}))
}

func TestValue_Set(t *testing.T) {
	got := Value(map[string]struct{}{"b": {}, "a": {}})
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestValue_NestedCollections(t *testing.T) {
	input := map[string]any{
		"amount":  json.Number("99.99"),
		"created": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"items":   []any{[]byte("x"), map[int]string{1: "one"}},
	}
	got := Value(input).(map[string]any)

	assert.Equal(t, 99.99, got["amount"])
	assert.Equal(t, "2024-01-01T00:00:00Z", got["created"])
	items := got["items"].([]any)
	assert.Equal(t, "x", items[0])
	assert.Equal(t, map[string]any{"1": "one"}, items[1])
}

func TestValue_StructsAndStringers(t *testing.T) {
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, Value(point{X: 1, Y: 2}))
	assert.Equal(t, map[string]any{"x": float64(3), "y": float64(4)}, Value(&point{X: 3, Y: 4}))
	assert.Equal(t, "named:n", Value(named{Name: "n"}))
	assert.Equal(t, "broken", Value(errors.New("broken")))
}

func TestValue_NonSerializable(t *testing.T) {
	assert.Equal(t, "<non-serializable: panicky>", Value(panicky{}))
	assert.Equal(t, "<non-serializable: chan int>", Value(make(chan int)))
}

func TestValue_CycleTerminates(t *testing.T) {
	n := &node{}
	n.Next = n
	require.NotPanics(t, func() { Value(n) })
}

func TestValue_AlwaysEncodable(t *testing.T) {
	inputs := []any{
		nil,
		math.NaN(),
		[]byte{0xff, 0xfe},
		map[float64]any{1.5: func() {}},
		[]any{make(chan int), panicky{}, complex(1, 2)},
		map[string]any{"deep": map[string]any{"set": map[int]struct{}{3: {}, 1: {}}}},
		json.RawMessage(`{"a":[1,2]}`),
		json.RawMessage(`{broken`),
	}
	for _, in := range inputs {
		_, err := json.Marshal(Value(in))
		assert.NoError(t, err, "input %#v", in)
	}
}

func TestValue_Idempotent(t *testing.T) {
	inputs := []any{
		"s",
		map[string]any{"t": time.Unix(0, 0).UTC(), "n": json.Number("1.25"), "b": []byte("x")},
		[]any{uuid.Nil, point{X: 1}, map[string]struct{}{"k": {}}},
		math.Inf(-1),
	}
	for _, in := range inputs {
		once := Value(in)
		assert.Equal(t, once, Value(once))
	}
}

func TestValue_DoesNotMutateInput(t *testing.T) {
	input := map[string]any{"b": []byte("x")}
	Value(input)
	assert.Equal(t, []byte("x"), input["b"])
}
