package action

import (
	"container/list"
	"errors"
	"fmt"
)

// ErrDuplicate is returned by Append when the id already has an action.
var ErrDuplicate = errors.New("object already has an action in this log")

// Log is the ordered action list of one transaction plus the dedup index
// from object id to the action's position. It owns the backup store.
type Log struct {
	actions *list.List
	byID    map[uint64]*list.Element
	backup  *Backup
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{
		actions: list.New(),
		byID:    make(map[uint64]*list.Element),
		backup:  NewBackup(),
	}
}

// Backup returns the log's backup store.
func (l *Log) Backup() *Backup { return l.backup }

// Append adds a to the end of the log. Object actions are indexed by id;
// a second action for the same id fails with ErrDuplicate and leaves the
// log unchanged.
func (l *Log) Append(a Action) error {
	if a.Kind.Schema() {
		l.actions.PushBack(a)
		return nil
	}
	if _, ok := l.byID[a.ID]; ok {
		return fmt.Errorf("append %s: %w", a, ErrDuplicate)
	}
	l.byID[a.ID] = l.actions.PushBack(a)
	return nil
}

// Lookup returns the action recorded for id.
func (l *Log) Lookup(id uint64) (Action, bool) {
	e, ok := l.byID[id]
	if !ok {
		return Action{}, false
	}
	return e.Value.(Action), true
}

// Remove deletes the action recorded for id and its pre-image.
func (l *Log) Remove(id uint64) bool {
	e, ok := l.byID[id]
	if !ok {
		return false
	}
	l.actions.Remove(e)
	delete(l.byID, id)
	l.backup.Drop(id)
	return true
}

// Replace changes the kind of the action recorded for id in place.
// Its position and pre-image are kept.
func (l *Log) Replace(id uint64, kind Kind) bool {
	e, ok := l.byID[id]
	if !ok {
		return false
	}
	a := e.Value.(Action)
	a.Kind = kind
	e.Value = a
	return true
}

// PopFront removes and returns the oldest action. The pre-image stays in
// the backup store so that the caller can restore from it.
func (l *Log) PopFront() (Action, bool) {
	e := l.actions.Front()
	if e == nil {
		return Action{}, false
	}
	a := l.actions.Remove(e).(Action)
	if !a.Kind.Schema() {
		delete(l.byID, a.ID)
	}
	return a, true
}

// Actions returns the actions in log order.
func (l *Log) Actions() []Action {
	out := make([]Action, 0, l.actions.Len())
	for e := l.actions.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Action))
	}
	return out
}

// Len returns the number of logged actions.
func (l *Log) Len() int { return l.actions.Len() }

// Clear drops every action, the dedup index and the backups.
func (l *Log) Clear() {
	l.actions.Init()
	clear(l.byID)
	l.backup.Clear()
}
