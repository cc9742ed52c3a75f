package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/ewaste/internal/detector"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownClient)

	require.NoError(t, c.Register(ctx, "a"))
	dets, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, dets)
	assert.NotNil(t, dets)

	input := []detector.Detection{detector.MouseDetection()}
	require.NoError(t, c.Set(ctx, "a", input))

	input[0].ClassName = "mutated"
	dets, err = c.Get(ctx, "a")
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "mouse", dets[0].ClassName, "stored detections are copied")

	require.NoError(t, c.Register(ctx, "a"))
	dets, _ = c.Get(ctx, "a")
	assert.Len(t, dets, 1, "re-registering keeps existing detections")

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "a"))
	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	ttl := 10 * time.Minute
	c := NewRedis(db, ttl)

	dets := []detector.Detection{detector.MouseDetection()}
	payload, err := json.Marshal(dets)
	require.NoError(t, err)

	t.Run("register", func(t *testing.T) {
		mock.ExpectSet("ewaste:detections:a", "[]", ttl).SetVal("OK")
		mock.ExpectSAdd("ewaste:clients", "a").SetVal(1)
		require.NoError(t, c.Register(ctx, "a"))
	})

	t.Run("set and get", func(t *testing.T) {
		mock.ExpectSet("ewaste:detections:a", payload, ttl).SetVal("OK")
		require.NoError(t, c.Set(ctx, "a", dets))

		mock.ExpectGet("ewaste:detections:a").SetVal(string(payload))
		got, err := c.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, dets, got)
	})

	t.Run("unknown client", func(t *testing.T) {
		mock.ExpectGet("ewaste:detections:b").RedisNil()
		_, err := c.Get(ctx, "b")
		assert.ErrorIs(t, err, ErrUnknownClient)
	})

	t.Run("backend error", func(t *testing.T) {
		mock.ExpectGet("ewaste:detections:a").SetErr(errors.New("connection refused"))
		_, err := c.Get(ctx, "a")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnknownClient)
	})

	t.Run("len and delete", func(t *testing.T) {
		mock.ExpectSCard("ewaste:clients").SetVal(1)
		n, err := c.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		mock.ExpectDel("ewaste:detections:a").SetVal(1)
		mock.ExpectSRem("ewaste:clients", "a").SetVal(1)
		require.NoError(t, c.Delete(ctx, "a"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
