package audio

import (
	"fmt"
	"math"
	"time"
)

// DefaultSlackFactor is how many times the reported packet size is requested
// from each fill. Engines may report a stale estimate and hand over more frames
// than announced, so the fill gets headroom instead of the exact size.
const DefaultSlackFactor = 10

// DrainConfig configures a Drainer
type DrainConfig struct {
	// FrameSize is the negotiated frame size in bytes
	FrameSize uint32

	// SlackFactor multiplies the reported packet size to get the fill capacity.
	// Zero means DefaultSlackFactor.
	SlackFactor uint32

	// MaxPacketsPerTick bounds the work done by a single Drain call.
	// Zero drains until the engine reports nothing pending.
	MaxPacketsPerTick int
}

// TickStats summarizes one Drain call
type TickStats struct {
	Packets    int    // Fill calls made
	Chunks     int    // Chunks delivered to the sink
	EmptyFills int    // Fills that returned zero frames
	Frames     uint64 // Frames delivered
	Bytes      uint64 // Bytes delivered
	Grew       bool   // Whether the scratch buffer was reallocated
	Truncated  bool   // Whether MaxPacketsPerTick cut the tick short
}

// Drainer pulls every pending packet from an engine session into its scratch
// buffer and hands exact copies of the valid region to a sink.
//
// A Drainer owns its scratch buffer, so independent captures never share one.
// It is driven from a single goroutine.
type Drainer struct {
	session    EngineSession
	sink       Sink
	scratch    *ScratchBuffer
	frameSize  uint32
	slack      uint32
	maxPackets int
	seq        uint64
	now        func() time.Time
}

// NewDrainer creates a drainer for a started engine session
func NewDrainer(session EngineSession, sink Sink, cfg DrainConfig) *Drainer {
	slack := cfg.SlackFactor
	if slack == 0 {
		slack = DefaultSlackFactor
	}
	return &Drainer{
		session:    session,
		sink:       sink,
		scratch:    NewScratchBuffer(),
		frameSize:  cfg.FrameSize,
		slack:      slack,
		maxPackets: cfg.MaxPacketsPerTick,
		now:        time.Now,
	}
}

// Scratch exposes the staging buffer for inspection
func (d *Drainer) Scratch() *ScratchBuffer {
	return d.scratch
}

// Drain performs one tick: it queries the pending packet size, fills, extracts
// and delivers, and repeats until the engine reports zero frames pending.
// A zero-frame fill is skipped rather than delivered as an empty chunk.
func (d *Drainer) Drain() (TickStats, error) {
	var stats TickStats

	packet, err := d.session.NextPacketSize()
	if err != nil {
		return stats, engineErr("next packet size", err)
	}

	for packet > 0 {
		if d.maxPackets > 0 && stats.Packets >= d.maxPackets {
			stats.Truncated = true
			break
		}

		capacity := fillCapacity(packet, d.slack)
		if d.scratch.EnsureCapacity(int(capacity) * int(d.frameSize)) {
			stats.Grew = true
		}

		frames, err := d.session.Fill(packet, capacity, d.scratch.Bytes())
		if err != nil {
			return stats, engineErr("fill", err)
		}
		stats.Packets++
		if frames > capacity {
			return stats, engineErr("fill", fmt.Errorf("%w: %d > %d", ErrOverrun, frames, capacity))
		}

		if frames == 0 {
			stats.EmptyFills++
		} else {
			d.seq++
			chunk := Chunk{
				Data:      d.scratch.Extract(frames, d.frameSize),
				Frames:    frames,
				Seq:       d.seq,
				Timestamp: d.now(),
			}
			if err := d.sink.Deliver(chunk); err != nil {
				return stats, &SinkError{Seq: chunk.Seq, Err: err}
			}
			stats.Chunks++
			stats.Frames += uint64(frames)
			stats.Bytes += uint64(len(chunk.Data))
		}

		packet, err = d.session.NextPacketSize()
		if err != nil {
			return stats, engineErr("next packet size", err)
		}
	}

	return stats, nil
}

func fillCapacity(packet, slack uint32) uint32 {
	c := uint64(packet) * uint64(slack)
	if c > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(c)
}
