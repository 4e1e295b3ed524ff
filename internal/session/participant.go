package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/modpath"
	"github.com/petervdpas/livepad/internal/pipeline"
	"github.com/petervdpas/livepad/internal/surface"
	"github.com/petervdpas/livepad/internal/syncengine"
)

// Participant is one connected editor. Its surfaces live server-side in a
// sync engine of its own; the client mirrors them through messages.
type Participant struct {
	id   string
	name string
	s    *Session

	engine  *syncengine.Engine
	out     chan Message
	subs    map[string]func() // open path -> content listener off
	seen    map[string]*history
	inbound bool              // applying the client's own edit
	gone    bool
	reason  string
}

// Join connects a new participant. It receives the tree and every current
// executable before anything else.
func (s *Session) Join(ctx context.Context, name string) (*Participant, error) {
	p := &Participant{
		id:   uuid.NewString(),
		name: name,
		s:    s,
		out:  make(chan Message, s.opts.OutboxSize),
		subs: make(map[string]func()),
		seen: make(map[string]*history),
	}
	err := s.Do(ctx, func() error {
		p.engine = syncengine.New(s.replica, syncengine.Hooks{
			OnError:     p.onEngineError,
			OnTabClosed: p.onTabClosed,
		})
		s.participants[p.id] = p
		p.push(s.treeMessage())
		exes, err := s.pipe.Build(s.ctx)
		if err != nil {
			return err
		}
		for _, exe := range exes {
			p.push(executableMessage(pipeline.Event{Executable: exe}))
		}
		for _, info := range s.Types() {
			if info.Done {
				p.push(typesMessage(info))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("SESSION [%s]: %s joined as %s", s.id, name, p.id)
	return p, nil
}

// ID identifies the participant within its session.
func (p *Participant) ID() string { return p.id }

// Name is the display name given at Join.
func (p *Participant) Name() string { return p.name }

// Out delivers outbound messages. It is closed when the participant leaves
// or is dropped.
func (p *Participant) Out() <-chan Message { return p.out }

// Reason tells why Out was closed. Only valid after it was.
func (p *Participant) Reason() string { return p.reason }

// Send hands one inbound message to the session loop. Protocol errors are
// answered with an error message and returned.
func (p *Participant) Send(ctx context.Context, msg Message) error {
	return p.s.Do(ctx, func() error {
		if p.gone {
			return ErrClosed
		}
		err := p.handle(msg)
		if err != nil && !p.gone {
			p.push(Message{Type: MsgError, Path: msg.Path, Error: err.Error()})
		}
		return err
	})
}

// Leave disconnects the participant.
func (p *Participant) Leave(ctx context.Context) error {
	err := p.s.Do(ctx, func() error {
		p.drop("left")
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (p *Participant) handle(msg Message) error {
	path := modpath.Normalize(msg.Path)
	switch msg.Type {
	case MsgOpen:
		return p.open(path)
	case MsgClose:
		p.closeTab(path)
		p.push(Message{Type: MsgClosed, Path: path})
		return nil
	case MsgEdit:
		return p.edit(path, msg.Version, msg.Changes)
	case MsgScroll:
		if msg.Scroll == nil {
			return fmt.Errorf("scroll %q: missing scroll", path)
		}
		p.engine.SetScroll(path, *msg.Scroll)
		return nil
	case MsgSelect:
		if msg.Selection == nil {
			return fmt.Errorf("select %q: missing selection", path)
		}
		p.engine.SetSelection(path, *msg.Selection)
		return nil
	default:
		return fmt.Errorf("%q: %w", msg.Type, ErrUnknownOp)
	}
}

func (p *Participant) open(path string) error {
	if modpath.Clean(path) == "" {
		return fmt.Errorf("open %q: %w", path, ErrBadPath)
	}
	m, err := p.engine.Open(path)
	if err != nil {
		return err
	}
	if _, ok := p.subs[path]; !ok {
		p.subs[path] = m.OnDidChangeContent(p.forward(path, m))
		p.seen[path] = &history{}
	}
	p.seen[path].record(m.Version(), p.s.replica.Heads())
	p.push(resetMessage(m))
	return nil
}

// forward relays edits the engine applied to an open surface.
func (p *Participant) forward(path string, m *surface.Model) func(surface.ContentChange) {
	return func(ev surface.ContentChange) {
		// the engine listener ran first, so the document already holds it
		if h := p.seen[path]; h != nil {
			h.record(ev.Version, p.s.replica.Heads())
		}
		if p.inbound {
			return
		}
		if ev.Flush {
			p.push(resetMessage(m))
			return
		}
		p.push(Message{Type: MsgEdits, Path: path, Version: ev.Version, Changes: ev.Changes})
	}
}

// edit applies a client edit made against version. An edit made before the
// client saw the latest remote edits is merged into the document at the
// version it was made on; the client then gets the merged file.
func (p *Participant) edit(path string, version int, changes []surface.ChangeRegion) error {
	m, ok := p.engine.Model(path)
	if !ok || p.subs[path] == nil {
		return fmt.Errorf("edit %q: %w", path, ErrNotOpen)
	}
	if version != m.Version() {
		return p.merge(path, m, version, changes)
	}
	if len(changes) == 0 {
		p.push(Message{Type: MsgAck, Path: path, Version: m.Version()})
		return nil
	}
	p.inbound = true
	err := m.ApplyRegions(changes)
	p.inbound = false
	if err != nil {
		p.push(resetMessage(m))
		return fmt.Errorf("edit %q: %w", path, err)
	}
	p.push(Message{Type: MsgAck, Path: path, Version: m.Version()})
	return nil
}

func (p *Participant) merge(path string, m *surface.Model, version int, changes []surface.ChangeRegion) error {
	at, ok := p.seen[path].at(version)
	if !ok {
		log.Debug("SESSION [%s]: edit from %s on %s at unknown v%d (at v%d), resetting", p.s.id, p.id, path, version, m.Version())
		p.push(resetMessage(m))
		return nil
	}
	p.inbound = true
	_, err := p.s.replica.MutateAt(at, func(d *doc.Draft) error {
		for _, r := range changes {
			if err := d.Splice(path, r.RangeOffset, r.RangeLength, r.Text); err != nil {
				return err
			}
		}
		return nil
	})
	p.inbound = false
	p.push(resetMessage(m))
	if err != nil {
		return fmt.Errorf("edit %q at v%d: %w", path, version, err)
	}
	log.Debug("SESSION [%s]: merged edit from %s on %s (v%d into v%d)", p.s.id, p.id, path, version, m.Version())
	return nil
}

func (p *Participant) closeTab(path string) {
	p.engine.CloseTab(path)
	p.unsubscribe(path)
}

func (p *Participant) unsubscribe(path string) {
	if off, ok := p.subs[path]; ok {
		off()
		delete(p.subs, path)
	}
	delete(p.seen, path)
}

func (p *Participant) onTabClosed(path string) {
	p.unsubscribe(path)
	p.push(Message{Type: MsgClosed, Path: path})
}

// onEngineError handles a document notification the engine could not apply:
// the participant's surfaces can no longer be trusted, so each open file is
// sent again in full.
func (p *Participant) onEngineError(err error) {
	log.Error("SESSION [%s]: participant %s: %v", p.s.id, p.id, err)
	p.resync()
}

func (p *Participant) resync() {
	paths := make([]string, 0, len(p.subs))
	for path := range p.subs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		p.closeTab(path)
		if err := p.open(path); err != nil {
			log.Warn("SESSION [%s]: reopen %s for %s: %v", p.s.id, path, p.id, err)
		}
	}
}

// push queues msg. A participant whose queue is full is dropped; its client
// reconnects and starts over from a reset.
func (p *Participant) push(msg Message) {
	if p.gone {
		return
	}
	select {
	case p.out <- msg:
	default:
		log.Warn("SESSION [%s]: participant %s is not reading, dropping it", p.s.id, p.id)
		p.drop("outbox full")
	}
}

func (p *Participant) drop(reason string) {
	if p.gone {
		return
	}
	p.gone = true
	p.reason = reason
	for path := range p.subs {
		p.unsubscribe(path)
	}
	if p.engine != nil {
		p.engine.Close()
	}
	delete(p.s.participants, p.id)
	close(p.out)
	log.Info("SESSION [%s]: participant %s gone (%s)", p.s.id, p.id, reason)
}

func resetMessage(m *surface.Model) Message {
	sel := m.Selection()
	scroll := m.Scroll()
	return Message{
		Type:      MsgReset,
		Path:      m.Path(),
		Version:   m.Version(),
		Text:      m.Value(),
		Selection: &sel,
		Scroll:    &scroll,
	}
}

// historySize is how many versions of an open file a late edit may lag.
const historySize = 64

// history maps recent surface versions of one file to the document heads
// holding that text.
type history struct {
	versions []int
	heads    []doc.Heads
}

func (h *history) record(version int, at doc.Heads) {
	if n := len(h.versions); n > 0 && h.versions[n-1] == version {
		h.heads[n-1] = at
		return
	}
	h.versions = append(h.versions, version)
	h.heads = append(h.heads, at)
	if len(h.versions) > historySize {
		h.versions = h.versions[1:]
		h.heads = h.heads[1:]
	}
}

func (h *history) at(version int) (doc.Heads, bool) {
	if h == nil {
		return nil, false
	}
	for i := len(h.versions) - 1; i >= 0; i-- {
		if h.versions[i] == version {
			return h.heads[i], true
		}
	}
	return nil, false
}
