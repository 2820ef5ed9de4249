// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package poller

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/sentinelfs/sentinel/lib/message"
)

// entryMeta is the snapshot record for one directory entry. Symlinks are
// recorded as files with the link's own metadata; they are never followed.
type entryMeta struct {
	kind   message.EntryKind
	size   int64
	mtime  int64 // ns
	perm   iofs.FileMode
	fileID uint64
}

func (m entryMeta) changedFrom(o entryMeta) bool {
	return m.kind != o.kind || m.size != o.size || m.mtime != o.mtime || m.perm != o.perm
}

func metaFor(path string, info iofs.FileInfo) entryMeta {
	kind := message.KindFile
	if info.IsDir() {
		kind = message.KindDirectory
	}
	return entryMeta{
		kind:   kind,
		size:   info.Size(),
		mtime:  info.ModTime().UnixNano(),
		perm:   info.Mode().Perm(),
		fileID: fileID(path, info),
	}
}

// cursorFrame is one resumable position in the depth-first walk: a
// directory, the listing captured when the frame was pushed, and the index
// of the next entry to inspect.
type cursorFrame struct {
	dir   string // relative, slash separated; "" is the root
	names []string
	next  int
}

// PolledRoot is the polling worker's record of one watched subtree: the
// last observed snapshot and a traversal cursor so a single poll cycle may
// visit only a slice of the tree.
//
// A PolledRoot is created on Add, mutated only by its owning worker
// goroutine, and dropped on Remove or worker shutdown.
type PolledRoot struct {
	root    string
	cmdID   message.CommandID
	channel message.ChannelID

	snapshot    map[string]entryMeta
	cursor      []cursorFrame
	rootMissing bool
}

// newPolledRoot builds the root and primes its snapshot with a bulk
// parallel scan. Priming emits no events; the first poll cycles diff
// against the primed state.
func newPolledRoot(rootPath string, cmdID message.CommandID, channel message.ChannelID) (*PolledRoot, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", rootPath, err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, fmt.Errorf("root %q: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", abs)
	}

	r := &PolledRoot{
		root:     abs,
		cmdID:    cmdID,
		channel:  channel,
		snapshot: make(map[string]entryMeta),
	}
	if err := r.prime(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PolledRoot) prime() error {
	var mut sync.Mutex
	conf := &fastwalk.Config{Follow: false}
	return fastwalk.Walk(conf, r.root, func(entryPath string, d iofs.DirEntry, err error) error {
		if err != nil {
			l.Debugf("priming %s: %v", entryPath, err)
			return nil
		}
		if entryPath == r.root {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(r.root, entryPath)
		if err != nil {
			return nil
		}
		m := metaFor(entryPath, info)
		mut.Lock()
		r.snapshot[filepath.ToSlash(rel)] = m
		mut.Unlock()
		return nil
	})
}

func (r *PolledRoot) String() string {
	return fmt.Sprintf("[root %s ch %d, %d entries]", r.root, r.channel, len(r.snapshot))
}

// abs converts a snapshot-relative path to the absolute native path used
// in emitted events.
func (r *PolledRoot) abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// advance resumes the walk and inspects entries until the allotment is
// exhausted or the walk completes, emitting detected changes into buf.
// One slot corresponds to one directory-entry inspection; an advance that
// does any work consumes at least one slot. Returns the slots consumed.
func (r *PolledRoot) advance(buf *eventBuffer, allotment int) int {
	if allotment <= 0 {
		return 0
	}

	consumed := 0
	renames := newRenameTracker()

	if len(r.cursor) == 0 {
		r.pushDir(buf, renames, "")
	}

	for len(r.cursor) > 0 {
		frame := &r.cursor[len(r.cursor)-1]
		if frame.next >= len(frame.names) {
			// Finalizing a frame is free, so it happens even when the
			// allotment is spent.
			dir, names := frame.dir, frame.names
			r.cursor = r.cursor[:len(r.cursor)-1]
			r.sweepDeletions(buf, renames, dir, names)
			continue
		}
		if consumed >= allotment {
			break
		}
		name := frame.names[frame.next]
		frame.next++
		dir := frame.dir
		consumed++
		r.inspect(buf, renames, dir, name)
	}

	renames.coalesce(buf)

	if consumed == 0 {
		consumed = 1
	}
	return consumed
}

// pushDir lists dir and pushes a traversal frame for it. The handle is
// opened and closed here; nothing is held across cycles. An unreadable
// directory is treated as emptied for this cycle and re-examined on the
// next one.
func (r *PolledRoot) pushDir(buf *eventBuffer, renames *renameTracker, dir string) {
	entries, err := os.ReadDir(r.abs(dir))
	if err != nil {
		if dir == "" && errors.Is(err, iofs.ErrNotExist) {
			r.deleteChildren(buf, renames, "")
			if !r.rootMissing {
				r.rootMissing = true
				buf.add(message.Deleted(r.channel, r.root, message.KindDirectory))
			}
			return
		}
		l.Debugf("listing %s: %v", r.abs(dir), err)
		r.deleteChildren(buf, renames, dir)
		return
	}
	if dir == "" {
		r.rootMissing = false
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	r.cursor = append(r.cursor, cursorFrame{dir: dir, names: names})
}

// inspect stats one directory entry and diffs it against the snapshot,
// updating the snapshot in place as events are emitted.
func (r *PolledRoot) inspect(buf *eventBuffer, renames *renameTracker, dir, name string) {
	rel := path.Join(dir, name)
	abs := r.abs(rel)

	info, err := os.Lstat(abs)
	if err != nil {
		if prev, ok := r.snapshot[rel]; ok {
			r.deleteEntry(buf, renames, rel, prev)
		}
		if !errors.Is(err, iofs.ErrNotExist) {
			l.Debugf("lstat %s: %v", abs, err)
		}
		return
	}

	m := metaFor(abs, info)
	prev, existed := r.snapshot[rel]

	switch {
	case !existed:
		r.snapshot[rel] = m
		renames.created(m.fileID, buf.add(message.Created(r.channel, abs, m.kind)))
	case m.fileID != 0 && prev.fileID != 0 && m.fileID != prev.fileID:
		// Same name, different file. Reported as a delete and a create so
		// the rename tracker can pair each side with its counterpart
		// elsewhere in the tree.
		r.deleteEntry(buf, renames, rel, prev)
		r.snapshot[rel] = m
		renames.created(m.fileID, buf.add(message.Created(r.channel, abs, m.kind)))
	case m.changedFrom(prev):
		r.snapshot[rel] = m
		buf.add(message.Modified(r.channel, abs, m.kind))
		if prev.kind == message.KindDirectory && m.kind != message.KindDirectory {
			r.deleteChildren(buf, renames, rel)
		}
	default:
		r.snapshot[rel] = m
	}

	if m.kind == message.KindDirectory {
		r.pushDir(buf, renames, rel)
	}
}

// sweepDeletions runs when a frame's listing is exhausted: snapshot
// children of dir that were not in the listing are gone.
func (r *PolledRoot) sweepDeletions(buf *eventBuffer, renames *renameTracker, dir string, names []string) {
	listed := make(map[string]struct{}, len(names))
	for _, name := range names {
		listed[name] = struct{}{}
	}
	for _, rel := range r.childKeys(dir) {
		if _, ok := listed[path.Base(rel)]; !ok {
			r.deleteEntry(buf, renames, rel, r.snapshot[rel])
		}
	}
}

// deleteEntry removes rel from the snapshot and emits its deletion; a
// deleted directory takes its recorded subtree with it.
func (r *PolledRoot) deleteEntry(buf *eventBuffer, renames *renameTracker, rel string, prev entryMeta) {
	delete(r.snapshot, rel)
	renames.deleted(prev.fileID, buf.add(message.Deleted(r.channel, r.abs(rel), prev.kind)))
	if prev.kind == message.KindDirectory {
		r.deleteChildren(buf, renames, rel)
	}
}

// deleteChildren emits deletions for every snapshot entry below dir and
// drops them from the snapshot. The previous kind is kept on each event;
// the entries are no longer present on disk to ask.
func (r *PolledRoot) deleteChildren(buf *eventBuffer, renames *renameTracker, dir string) {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	var gone []string
	for rel := range r.snapshot {
		if strings.HasPrefix(rel, prefix) {
			gone = append(gone, rel)
		}
	}
	sort.Strings(gone)
	for _, rel := range gone {
		prev, ok := r.snapshot[rel]
		if !ok {
			continue
		}
		delete(r.snapshot, rel)
		renames.deleted(prev.fileID, buf.add(message.Deleted(r.channel, r.abs(rel), prev.kind)))
	}
}

// childKeys returns the snapshot entries whose parent directory is dir,
// sorted for deterministic event order.
func (r *PolledRoot) childKeys(dir string) []string {
	var keys []string
	for rel := range r.snapshot {
		if path.Dir(rel) == dir || (dir == "" && path.Dir(rel) == ".") {
			keys = append(keys, rel)
		}
	}
	sort.Strings(keys)
	return keys
}

// eventBuffer collects one cycle's events. Entries may later be dropped
// or rewritten by rename coalescing, so it hands out indices.
type eventBuffer struct {
	events []message.FileSystemPayload
	drop   []bool
}

func (b *eventBuffer) add(ev message.FileSystemPayload) int {
	b.events = append(b.events, ev)
	b.drop = append(b.drop, false)
	return len(b.events) - 1
}

func (b *eventBuffer) messages() []message.Message {
	msgs := make([]message.Message, 0, len(b.events))
	for i := range b.events {
		if b.drop[i] {
			continue
		}
		msgs = append(msgs, message.Filesystem(b.events[i]))
	}
	return msgs
}

// renameTracker pairs deletions and creations that share a file id within
// one advance call. Renames that straddle cycles are not paired and
// surface as a delete and a create.
type renameTracker struct {
	createdIdx map[uint64]int
	deletedIdx map[uint64]int
}

func newRenameTracker() *renameTracker {
	return &renameTracker{
		createdIdx: make(map[uint64]int),
		deletedIdx: make(map[uint64]int),
	}
}

func (t *renameTracker) created(id uint64, idx int) {
	if id == 0 {
		return
	}
	t.createdIdx[id] = idx
}

func (t *renameTracker) deleted(id uint64, idx int) {
	if id == 0 {
		return
	}
	t.deletedIdx[id] = idx
}

// coalesce rewrites each matched delete/create pair into a single rename,
// keeping the created side's buffer position. A pair whose old and new
// paths agree cancels out entirely; the net state is unchanged.
func (t *renameTracker) coalesce(buf *eventBuffer) {
	for id, di := range t.deletedIdx {
		ci, ok := t.createdIdx[id]
		if !ok {
			continue
		}
		oldPath := buf.events[di].Path
		newPath := buf.events[ci].Path
		if oldPath == newPath {
			buf.drop[ci] = true
			buf.drop[di] = true
			continue
		}
		buf.events[ci] = message.Renamed(buf.events[ci].Channel, oldPath, newPath, buf.events[ci].Kind)
		buf.drop[di] = true
	}
}
