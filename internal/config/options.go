// Package config holds the transport's recognized options: sane defaults,
// a JSON file loader in the teacher's config-file style, and functional
// options for programmatic overrides.
package config

import (
	"encoding/json"
	"os"
	"time"
)

// OptionsFileName is the default name of the on-disk config file.
const OptionsFileName = "duplexwire.json"

// Defaults per spec §6 "Configuration (recognized options)".
const (
	DefaultResponseTimeoutMS            = 10000
	DefaultBinaryContentPacketTimeoutMS = 10000
	DefaultStreamsPerPackageLimit       = 20
	DefaultStreamsEnabled               = true
	DefaultChunksCanContainStreams      = false
	DefaultInitialStreamCredit          = 64 * 1024
)

// Options are the transport's recognized configuration options.
type Options struct {
	// ResponseTimeoutMS is the invoke reply deadline.
	ResponseTimeoutMS int `json:"responseTimeoutMs,omitempty"`

	// BinaryContentPacketTimeoutMS is the deadline to receive a referenced binary frame.
	BinaryContentPacketTimeoutMS int `json:"binaryContentPacketTimeoutMs,omitempty"`

	// StreamsPerPackageLimit caps streams resolved per inbound packet.
	StreamsPerPackageLimit int `json:"streamsPerPackageLimit,omitempty"`

	// StreamsEnabled toggles stream support; when false inbound stream
	// references error and outbound payloads embedding a stream are
	// rejected. Outbound streams are not inlined as plain JSON.
	StreamsEnabled bool `json:"streamsEnabled"`

	// ChunksCanContainStreams gates stream decoding inside stream chunks.
	ChunksCanContainStreams bool `json:"chunksCanContainStreams"`

	// InitialStreamCredit is the credit a freshly registered read-side
	// stream grants the writer via its first StreamAccept. Not named by
	// spec §6's recognized-options list (which leaves the reader's initial
	// buffer an implementation detail); added here so it is configurable
	// rather than a buried literal. See DESIGN.md.
	InitialStreamCredit int64 `json:"initialStreamCredit,omitempty"`
}

// ResponseTimeout returns ResponseTimeoutMS as a time.Duration.
func (o Options) ResponseTimeout() time.Duration {
	return time.Duration(o.ResponseTimeoutMS) * time.Millisecond
}

// BinaryContentPacketTimeout returns BinaryContentPacketTimeoutMS as a time.Duration.
func (o Options) BinaryContentPacketTimeout() time.Duration {
	return time.Duration(o.BinaryContentPacketTimeoutMS) * time.Millisecond
}

// Default returns the recognized-option defaults.
func Default() Options {
	return Options{
		ResponseTimeoutMS:            DefaultResponseTimeoutMS,
		BinaryContentPacketTimeoutMS: DefaultBinaryContentPacketTimeoutMS,
		StreamsPerPackageLimit:       DefaultStreamsPerPackageLimit,
		StreamsEnabled:               DefaultStreamsEnabled,
		ChunksCanContainStreams:      DefaultChunksCanContainStreams,
		InitialStreamCredit:          DefaultInitialStreamCredit,
	}
}

// Option mutates an Options value in place, composing with Default().
type Option func(*Options)

// WithResponseTimeoutMS overrides the invoke reply deadline.
func WithResponseTimeoutMS(ms int) Option {
	return func(o *Options) { o.ResponseTimeoutMS = ms }
}

// WithBinaryContentPacketTimeoutMS overrides the binary-resolve deadline.
func WithBinaryContentPacketTimeoutMS(ms int) Option {
	return func(o *Options) { o.BinaryContentPacketTimeoutMS = ms }
}

// WithStreamsPerPackageLimit overrides the per-packet stream resolution cap.
func WithStreamsPerPackageLimit(n int) Option {
	return func(o *Options) { o.StreamsPerPackageLimit = n }
}

// WithStreamsEnabled toggles stream support.
func WithStreamsEnabled(enabled bool) Option {
	return func(o *Options) { o.StreamsEnabled = enabled }
}

// WithChunksCanContainStreams toggles nested stream placeholders inside chunks.
func WithChunksCanContainStreams(enabled bool) Option {
	return func(o *Options) { o.ChunksCanContainStreams = enabled }
}

// WithInitialStreamCredit overrides the credit a fresh read-side stream
// grants in its first StreamAccept.
func WithInitialStreamCredit(n int64) Option {
	return func(o *Options) { o.InitialStreamCredit = n }
}

// New builds Options from defaults plus overrides.
func New(opts ...Option) Options {
	o := Default()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Load reads Options from a JSON file, layered on top of the defaults so
// the file need only specify overrides, matching the teacher's
// vango.json loading convention.
func Load(path string) (Options, error) {
	o := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return Options{}, err
	}
	return o, nil
}
