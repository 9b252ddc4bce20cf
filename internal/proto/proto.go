// Package proto holds wire-level constants shared by the engine and the
// libp2p-backed object-store adapter: stream protocol IDs, the live
// announcement path suffix, and a timestamp helper.
package proto

import "time"

const (
	// MdnsTag is the local service tag used for LAN peer discovery by the
	// demo CLI.
	MdnsTag = "vodlive-mdns"

	// BytesProtoID is the libp2p stream protocol used to fetch a raw byte
	// range (an init segment or a media segment) addressed by CID+path.
	BytesProtoID = "/vodlive/bytes/1.0.0"

	// NodeProtoID is the libp2p stream protocol used to fetch a typed DAG
	// node (SetupDescriptor, VideoNode) addressed by CID+path.
	NodeProtoID = "/vodlive/node/1.0.0"

	// SetupSuffix addresses a live node's setup descriptor. The trailing
	// slash is syntactic, not significant.
	SetupSuffix = "/setup/"

	// StoppingSentinel is published on a live topic when the origin shuts
	// down; it decodes to no CID and is treated as a no-op.
	StoppingSentinel = "Stopping"
)

// NowMillis returns the current time as Unix milliseconds.
func NowMillis() int64 { return time.Now().UnixMilli() }
