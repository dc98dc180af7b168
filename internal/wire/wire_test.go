package wire

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/mobility/internal/errors"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	msgs := []*Envelope{
		NewRequest(1, "requestMetrics", map[string]any{
			"keys":      []any{"walkingSpeed", "stepLength"},
			"startDate": int64(1700000000000),
			"limit":     10,
		}),
		NewRequest(2, "getPlatformVersion", nil),
		NewResult(1, map[string]any{
			"walkingSpeed": []any{map[string]any{"value": 1.25, "startDate": int64(1), "endDate": int64(2)}},
			"stepLength":   []any{},
		}),
		NewResult(2, "iOS 17.0"),
		NewErrorFromErr(3, errors.NewUnknownMetric("heartRate")),
	}
	for _, m := range msgs {
		require.NoError(t, w.Write(m))
	}

	r := NewReader(&buf)

	req, err := r.Read()
	require.NoError(t, err)
	assert.True(t, req.IsRequest())
	assert.Equal(t, uint64(1), req.ID)
	assert.Equal(t, "requestMetrics", req.Method)
	assert.Equal(t, map[string]any{
		"keys":      []any{"walkingSpeed", "stepLength"},
		"startDate": 1700000000000.0,
		"limit":     10.0,
	}, req.Args)

	req, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "getPlatformVersion", req.Method)
	assert.NotNil(t, req.Args)
	assert.Empty(t, req.Args)

	res, err := r.Read()
	require.NoError(t, err)
	assert.False(t, res.IsRequest())
	assert.Nil(t, res.Error)
	assert.Equal(t, map[string]any{
		"walkingSpeed": []any{map[string]any{"value": 1.25, "startDate": 1.0, "endDate": 2.0}},
		"stepLength":   []any{},
	}, res.Result)

	res, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "iOS 17.0", res.Result)

	res, err = r.Read()
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.CodeInvalidType, res.Error.Code)
	assert.Equal(t, "INVALID_TYPE", res.Error.Name)
	assert.Contains(t, res.Error.Message, "heartRate")
	assert.ErrorIs(t, res.Error, errors.ErrUnknownMetric)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
}

func TestNullResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write(NewResult(9, nil)))

	res, err := NewReader(&buf).Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), res.ID)
	assert.Nil(t, res.Result)
	assert.Nil(t, res.Error)
}

func TestMarshal_UnsupportedValue(t *testing.T) {
	_, err := NewResult(1, map[string]any{"bad": struct{}{}}).Marshal()
	assert.Error(t, err)
}

func TestUnmarshal_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"missing id", map[string]any{"method": "x"}},
		{"string id", map[string]any{"id": "1", "method": "x"}},
		{"negative id", map[string]any{"id": -1.0}},
		{"empty method", map[string]any{"id": 1.0, "method": ""}},
		{"method not string", map[string]any{"id": 1.0, "method": 3.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tt.fields)
			require.NoError(t, err)
			_, err = Unmarshal(s)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestReader_MaxSize(t *testing.T) {
	var buf bytes.Buffer
	big := make([]any, 1000)
	for i := range big {
		big[i] = "padding padding padding"
	}
	require.NoError(t, NewWriter(&buf).Write(NewResult(1, big)))

	_, err := NewReaderSize(&buf, 512).Read()
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewResult(1, "hello").Marshal()
	require.NoError(t, err)
	_, err = protodelim.MarshalTo(&buf, s)
	require.NoError(t, err)

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, err = NewReader(truncated).Read()
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			assert.NoError(t, w.Write(NewResult(id, map[string]any{"n": float64(id)})))
		}(uint64(i))
	}
	wg.Wait()

	r := NewReader(&buf)
	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		env, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, float64(env.ID), env.Result.(map[string]any)["n"])
		seen[env.ID] = true
	}
	assert.Len(t, seen, n)
}

func TestConn(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, 0)
	require.NoError(t, c.Write(NewErrorf(4, errors.CodeFetch, "query %s failed", "stepLength")))

	env, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "FETCH_ERROR", env.Error.Name)
	assert.Equal(t, "query stepLength failed", env.Error.Message)
	assert.Equal(t, "FETCH_ERROR: query stepLength failed", env.Error.Error())
}
