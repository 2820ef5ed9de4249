// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package message defines the payloads that cross worker boundaries: the
// filesystem events emitted by watchers, the commands submitted by the
// host, and the acknowledgements correlating the two.
//
// Messages are handed over, not shared: once a Message has been enqueued
// the sender must not retain or use pointers obtained from its accessors.
package message

import "fmt"

// EntryKind classifies a filesystem entry. Unknown is used when the kind
// cannot be determined, for example for a deleted entry that is no longer
// present on disk.
type EntryKind int32

const (
	KindFile EntryKind = iota
	KindDirectory
	KindUnknown
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

func (k EntryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KindsDiffer reports whether two kinds disagree, treating Unknown as
// compatible with anything.
func KindsDiffer(a, b EntryKind) bool {
	if a == KindUnknown || b == KindUnknown {
		return false
	}
	return a != b
}

type FileSystemAction int32

const (
	ActionCreated FileSystemAction = iota
	ActionDeleted
	ActionModified
	ActionRenamed
)

func (a FileSystemAction) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionDeleted:
		return "deleted"
	case ActionModified:
		return "modified"
	case ActionRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

func (a FileSystemAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ChannelID identifies one host subscription. Zero is reserved as "no
// channel".
type ChannelID uint32

const NoChannel ChannelID = 0

// CommandID correlates an ack with the command that caused it. Zero is
// reserved; commands submitted with a zero id are not acked.
type CommandID uint32

const NoCommand CommandID = 0

type CommandAction int32

const (
	CmdAdd CommandAction = iota
	CmdRemove
	CmdLogToFile
	CmdLogToStderr
	CmdLogToStdout
	CmdLogDisable
	CmdPollingInterval
	CmdPollingThrottle
	CmdDrain
)

func (a CommandAction) String() string {
	switch a {
	case CmdAdd:
		return "add"
	case CmdRemove:
		return "remove"
	case CmdLogToFile:
		return "log to file"
	case CmdLogToStderr:
		return "log to stderr"
	case CmdLogToStdout:
		return "log to stdout"
	case CmdLogDisable:
		return "log disable"
	case CmdPollingInterval:
		return "polling interval"
	case CmdPollingThrottle:
		return "polling throttle"
	case CmdDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// FileSystemPayload reports one observed filesystem change. OldPath is
// populated for renames only.
type FileSystemPayload struct {
	Channel ChannelID        `json:"channelID"`
	Action  FileSystemAction `json:"action"`
	Kind    EntryKind        `json:"kind"`
	OldPath string           `json:"oldPath,omitempty"`
	Path    string           `json:"path"`
}

func Created(channel ChannelID, path string, kind EntryKind) FileSystemPayload {
	return FileSystemPayload{Channel: channel, Action: ActionCreated, Kind: kind, Path: path}
}

func Modified(channel ChannelID, path string, kind EntryKind) FileSystemPayload {
	return FileSystemPayload{Channel: channel, Action: ActionModified, Kind: kind, Path: path}
}

func Deleted(channel ChannelID, path string, kind EntryKind) FileSystemPayload {
	return FileSystemPayload{Channel: channel, Action: ActionDeleted, Kind: kind, Path: path}
}

func Renamed(channel ChannelID, oldPath, path string, kind EntryKind) FileSystemPayload {
	return FileSystemPayload{Channel: channel, Action: ActionRenamed, Kind: kind, OldPath: oldPath, Path: path}
}

func (p *FileSystemPayload) String() string {
	if p.Action == ActionRenamed {
		return fmt.Sprintf("[event ch %d %s %s %s -> %s]", p.Channel, p.Action, p.Kind, p.OldPath, p.Path)
	}
	return fmt.Sprintf("[event ch %d %s %s %s]", p.Channel, p.Action, p.Kind, p.Path)
}

// CommandPayload carries one host instruction. Arg doubles as the channel
// id for channel-bearing commands and as the numeric argument (interval
// milliseconds, throttle slots) otherwise. A SplitCount above one makes
// the native worker watch each top-level directory of an Add's root as its
// own watch point; the value does not set the number of watch points, and
// the polling worker ignores it. Poll selects the polling worker over the
// native one for an Add.
type CommandPayload struct {
	ID         CommandID     `json:"id"`
	Action     CommandAction `json:"action"`
	Root       string        `json:"root,omitempty"`
	Arg        uint32        `json:"arg"`
	SplitCount int           `json:"splitCount,omitempty"`
	Poll       bool          `json:"poll,omitempty"`
}

// Channel returns Arg interpreted as a channel id.
func (c *CommandPayload) Channel() ChannelID {
	return ChannelID(c.Arg)
}

func (c *CommandPayload) String() string {
	return fmt.Sprintf("[command %d %s root %q arg %d]", c.ID, c.Action, c.Root, c.Arg)
}

// AckPayload is the reply to a single command. Key is the originating
// command id.
type AckPayload struct {
	Key     CommandID `json:"key"`
	Channel ChannelID `json:"channelID"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
}

func (a *AckPayload) String() string {
	if a.Success {
		return fmt.Sprintf("[ack %d ch %d ok]", a.Key, a.Channel)
	}
	return fmt.Sprintf("[ack %d ch %d failed: %s]", a.Key, a.Channel, a.Message)
}

// AckFrom builds the ack for cmd from the outcome of handling it.
func AckFrom(cmd *CommandPayload, err error) AckPayload {
	ack := AckPayload{Key: cmd.ID, Channel: cmd.Channel(), Success: err == nil}
	if err != nil {
		ack.Message = err.Error()
	}
	return ack
}

type MessageKind int32

const (
	KindFilesystem MessageKind = iota
	KindCommand
	KindAck
)

func (k MessageKind) String() string {
	switch k {
	case KindFilesystem:
		return "filesystem"
	case KindCommand:
		return "command"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Message is a tagged union of exactly one of the three payloads. Reading
// requires discriminating on Kind first; accessors for the wrong variant
// report absence.
type Message struct {
	kind MessageKind
	fs   FileSystemPayload
	cmd  CommandPayload
	ack  AckPayload
}

func Filesystem(p FileSystemPayload) Message {
	return Message{kind: KindFilesystem, fs: p}
}

func Command(p CommandPayload) Message {
	return Message{kind: KindCommand, cmd: p}
}

func Ack(p AckPayload) Message {
	return Message{kind: KindAck, ack: p}
}

func (m *Message) Kind() MessageKind {
	return m.kind
}

func (m *Message) AsFilesystem() (*FileSystemPayload, bool) {
	if m.kind != KindFilesystem {
		return nil, false
	}
	return &m.fs, true
}

func (m *Message) AsCommand() (*CommandPayload, bool) {
	if m.kind != KindCommand {
		return nil, false
	}
	return &m.cmd, true
}

func (m *Message) AsAck() (*AckPayload, bool) {
	if m.kind != KindAck {
		return nil, false
	}
	return &m.ack, true
}

func (m *Message) String() string {
	switch m.kind {
	case KindFilesystem:
		return m.fs.String()
	case KindCommand:
		return m.cmd.String()
	case KindAck:
		return m.ack.String()
	default:
		return "[empty message]"
	}
}
