package audio_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/audio/mock"
)

func newDrainer(session *mock.Session, sink audio.Sink, maxPackets int) *audio.Drainer {
	return audio.NewDrainer(session, sink, audio.DrainConfig{
		FrameSize:         audio.SupportedFormat.FrameSize,
		MaxPacketsPerTick: maxPackets,
	})
}

func TestDrainDeliversEachPacket(t *testing.T) {
	session := &mock.Session{FormatResult: audio.SupportedFormat, Packets: []uint32{5, 3, 0}}
	sink := &mock.Sink{}
	d := newDrainer(session, sink, 0)

	stats, err := d.Drain()
	require.NoError(t, err)

	chunks := sink.Chunks()
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0].Data, 40)
	assert.Len(t, chunks[1].Data, 24)
	assert.Equal(t, uint32(5), chunks[0].Frames)
	assert.Equal(t, uint32(3), chunks[1].Frames)
	assert.Equal(t, uint64(1), chunks[0].Seq)
	assert.Equal(t, uint64(2), chunks[1].Seq)

	assert.Equal(t, 2, stats.Packets)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, uint64(8), stats.Frames)
	assert.Equal(t, uint64(64), stats.Bytes)
	assert.True(t, stats.Grew)
	assert.False(t, stats.Truncated)
}

func TestDrainFillCapacityAndSizing(t *testing.T) {
	session := &mock.Session{FormatResult: audio.SupportedFormat, Packets: []uint32{5, 3, 50, 0}}
	d := newDrainer(session, &mock.Sink{}, 0)

	_, err := d.Drain()
	require.NoError(t, err)

	fills := session.Fills()
	require.Len(t, fills, 3)
	assert.Equal(t, mock.FillCall{Requested: 5, Capacity: 50, DstLen: 400}, fills[0])
	assert.Equal(t, mock.FillCall{Requested: 3, Capacity: 30, DstLen: 400}, fills[1], "smaller packet must not reallocate")
	assert.Equal(t, mock.FillCall{Requested: 50, Capacity: 500, DstLen: 4000}, fills[2])
	assert.Equal(t, 2, d.Scratch().Grows())
}

func TestDrainChunkExcludesStaleBytes(t *testing.T) {
	// Engine reports fewer frames than requested; the slack region holds junk.
	session := &mock.Session{
		FormatResult: audio.SupportedFormat,
		Packets:      []uint32{10, 0},
		FillFrames:   []uint32{7},
	}
	sink := &mock.Sink{}
	d := newDrainer(session, sink, 0)

	_, err := d.Drain()
	require.NoError(t, err)

	chunks := sink.Chunks()
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0].Data, 7*8)
	for _, b := range chunks[0].Data {
		assert.NotEqual(t, byte(mock.StaleByte), b)
	}
}

func TestDrainMoreFramesThanAnnounced(t *testing.T) {
	// Stale size estimate: the engine hands over more than requested, within slack.
	session := &mock.Session{
		FormatResult: audio.SupportedFormat,
		Packets:      []uint32{4, 0},
		FillFrames:   []uint32{40},
	}
	sink := &mock.Sink{}
	d := newDrainer(session, sink, 0)

	_, err := d.Drain()
	require.NoError(t, err)
	require.Equal(t, 1, sink.Len())
	assert.Len(t, sink.Chunks()[0].Data, 320)
}

func TestDrainSkipsEmptyFill(t *testing.T) {
	session := &mock.Session{
		FormatResult: audio.SupportedFormat,
		Packets:      []uint32{4, 2, 0},
		FillFrames:   []uint32{0, 2},
	}
	sink := &mock.Sink{}
	d := newDrainer(session, sink, 0)

	stats, err := d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Packets)
	assert.Equal(t, 1, stats.EmptyFills)
	assert.Equal(t, 1, stats.Chunks)

	chunks := sink.Chunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, uint64(1), chunks[0].Seq)
	assert.Len(t, chunks[0].Data, 16)
}

func TestDrainNothingPending(t *testing.T) {
	session := &mock.Session{FormatResult: audio.SupportedFormat}
	sink := &mock.Sink{}
	d := newDrainer(session, sink, 0)

	stats, err := d.Drain()
	require.NoError(t, err)
	assert.Equal(t, audio.TickStats{}, stats)
	assert.Empty(t, session.Fills())
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, 16, d.Scratch().Cap())
}

func TestDrainOverrun(t *testing.T) {
	session := &mock.Session{
		FormatResult: audio.SupportedFormat,
		Packets:      []uint32{2, 0},
		FillFrames:   []uint32{21},
	}
	sink := &mock.Sink{}
	d := newDrainer(session, sink, 0)

	_, err := d.Drain()
	require.Error(t, err)
	assert.True(t, errors.Is(err, audio.ErrOverrun))
	assert.True(t, errors.Is(err, audio.ErrEngineFault))

	var engErr *audio.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "fill", engErr.Op)
	assert.Equal(t, 0, sink.Len())
}

func TestDrainEngineErrors(t *testing.T) {
	boom := errors.New("device invalidated")

	t.Run("next packet size", func(t *testing.T) {
		session := &mock.Session{FormatResult: audio.SupportedFormat, NextPacketError: boom}
		_, err := newDrainer(session, &mock.Sink{}, 0).Drain()
		assert.True(t, errors.Is(err, audio.ErrEngineFault))
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("fill", func(t *testing.T) {
		session := &mock.Session{FormatResult: audio.SupportedFormat, Packets: []uint32{3}, FillError: boom}
		_, err := newDrainer(session, &mock.Sink{}, 0).Drain()
		var engErr *audio.EngineError
		require.True(t, errors.As(err, &engErr))
		assert.Equal(t, "fill", engErr.Op)
		assert.True(t, errors.Is(err, boom))
	})
}

func TestDrainSinkError(t *testing.T) {
	full := errors.New("disk full")
	session := &mock.Session{FormatResult: audio.SupportedFormat, Packets: []uint32{1, 1, 1, 0}}
	sink := &mock.Sink{DeliverError: full, FailAfter: 1}
	d := newDrainer(session, sink, 0)

	stats, err := d.Drain()
	require.Error(t, err)
	assert.True(t, errors.Is(err, audio.ErrSinkFault))
	assert.True(t, errors.Is(err, full))

	var sinkErr *audio.SinkError
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, uint64(2), sinkErr.Seq)
	assert.Equal(t, 1, stats.Chunks)
	assert.Len(t, session.Fills(), 2, "no fill after the sink fails")
}

func TestDrainMaxPacketsPerTick(t *testing.T) {
	// The third size is read when the bound is hit; the engine re-reports it next tick.
	session := &mock.Session{FormatResult: audio.SupportedFormat, Packets: []uint32{1, 1, 1, 1, 0}}
	sink := &mock.Sink{}
	d := newDrainer(session, sink, 2)

	stats, err := d.Drain()
	require.NoError(t, err)
	assert.True(t, stats.Truncated)
	assert.Equal(t, 2, stats.Chunks)

	stats, err = d.Drain()
	require.NoError(t, err)
	assert.False(t, stats.Truncated)
	assert.Equal(t, 1, stats.Chunks)

	chunks := sink.Chunks()
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, uint64(i+1), c.Seq)
	}
}

func TestDrainCustomSlackFactor(t *testing.T) {
	session := &mock.Session{FormatResult: audio.SupportedFormat, Packets: []uint32{4, 0}}
	d := audio.NewDrainer(session, &mock.Sink{}, audio.DrainConfig{FrameSize: 8, SlackFactor: 2})

	_, err := d.Drain()
	require.NoError(t, err)
	require.Len(t, session.Fills(), 1)
	assert.Equal(t, uint32(8), session.Fills()[0].Capacity)
	assert.Equal(t, 64, d.Scratch().Cap())
}
