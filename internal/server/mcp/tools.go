package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/deskcap/internal/sink"
)

type CaptureStatusArgs struct{}

type CaptureClipArgs struct {
	Seconds float64 `json:"seconds" jsonschema:"Length of the clip in seconds"`
}

// StatusResult is the JSON body of capture_status
type StatusResult struct {
	Session    string    `json:"session"`
	State      string    `json:"state"`
	Format     string    `json:"format"`
	Ticks      uint64    `json:"ticks"`
	Chunks     uint64    `json:"chunks"`
	Frames     uint64    `json:"frames"`
	Bytes      uint64    `json:"bytes"`
	EmptyFills uint64    `json:"empty_fills"`
	StartedAt  time.Time `json:"started_at"`
	Published  uint64    `json:"published"`
	Listeners  int       `json:"listeners"`
}

// ClipResult describes the audio returned by capture_clip
type ClipResult struct {
	Frames     uint32  `json:"frames"`
	Seconds    float64 `json:"seconds"`
	SampleRate uint32  `json:"sample_rate"`
	Channels   uint32  `json:"channels"`
	Encoding   string  `json:"encoding"`
	Partial    bool    `json:"partial"`
	Dropped    uint64  `json:"dropped"`
}

func (s *Server) handleCaptureStatus(ctx context.Context, req *sdk.CallToolRequest, args CaptureStatusArgs) (*sdk.CallToolResult, any, error) {
	c := s.config.Capture
	stats := c.Stats()
	status := StatusResult{
		Session:    c.ID(),
		State:      c.State().String(),
		Format:     c.Format().String(),
		Ticks:      stats.Ticks,
		Chunks:     stats.Chunks,
		Frames:     stats.Frames,
		Bytes:      stats.Bytes,
		EmptyFills: stats.EmptyFills,
		StartedAt:  stats.StartedAt,
		Published:  s.config.Hub.Published(),
		Listeners:  s.config.Hub.Subscribers(),
	}

	body, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode status: %w", err)
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(body)}},
	}, nil, nil
}

func (s *Server) handleCaptureClip(ctx context.Context, req *sdk.CallToolRequest, args CaptureClipArgs) (*sdk.CallToolResult, any, error) {
	if args.Seconds <= 0 || args.Seconds > s.config.MaxClipSeconds {
		return toolError(fmt.Sprintf("seconds must be in (0, %.0f], got %g", s.config.MaxClipSeconds, args.Seconds)), nil, nil
	}

	format := s.config.Capture.Format()
	if format.FrameSize == 0 || format.SampleRate == 0 {
		return toolError("capture has no negotiated format yet"), nil, nil
	}
	want := uint32(math.Ceil(args.Seconds * float64(format.SampleRate)))

	sub, unsubscribe := s.config.Hub.Subscribe(64)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, clipTimeout(args.Seconds))
	defer cancel()

	var pcm bytes.Buffer
	var frames uint32
	partial := false

collect:
	for frames < want {
		select {
		case <-ctx.Done():
			partial = true
			break collect
		case chunk, ok := <-sub.C:
			if !ok {
				partial = true
				break collect
			}
			take := min(chunk.Frames, want-frames)
			pcm.Write(chunk.Data[:take*format.FrameSize])
			frames += take
		}
	}

	var wav bytes.Buffer
	if err := sink.WriteWAVHeader(&wav, format, uint32(pcm.Len())); err != nil {
		return nil, nil, fmt.Errorf("failed to write wav header: %w", err)
	}
	wav.Write(pcm.Bytes())

	info := ClipResult{
		Frames:     frames,
		Seconds:    float64(frames) / float64(format.SampleRate),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Encoding:   "f32le",
		Partial:    partial,
		Dropped:    sub.Dropped(),
	}
	body, err := json.Marshal(info)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode clip info: %w", err)
	}

	return &sdk.CallToolResult{
		Content: []sdk.Content{
			&sdk.TextContent{Text: string(body)},
			&sdk.AudioContent{Data: wav.Bytes(), MIMEType: "audio/wav"},
		},
	}, nil, nil
}

func toolError(msg string) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		IsError: true,
		Content: []sdk.Content{&sdk.TextContent{Text: msg}},
	}
}
