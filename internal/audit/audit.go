// Package audit owns the engine's append-only event histories: the session
// log (what each cycle did) and the audit log (security-relevant events).
// Both are hash-sealed on every write and capped to the most recent entries,
// a hardening change from the original's unbounded growth.
package audit

import (
	"log"

	"github.com/novamind/nova/internal/integrity"
	"github.com/novamind/nova/internal/store"
)

// Event is one timestamped log entry. Shapes vary by kind, so events stay
// schemaless maps.
type Event map[string]any

// Log appends to the session and audit histories for a single owner.
type Log struct {
	SessionPath string
	AuditPath   string
	Owner       string
	SessionCap  int
	AuditCap    int

	guard *integrity.Guard
}

// NewLog creates a Log writing through the given guard.
func NewLog(sessionPath, auditPath, owner string, sessionCap, auditCap int, guard *integrity.Guard) *Log {
	return &Log{
		SessionPath: sessionPath,
		AuditPath:   auditPath,
		Owner:       owner,
		SessionCap:  sessionCap,
		AuditCap:    auditCap,
		guard:       guard,
	}
}

// Session appends one event to the session log. Write failures are logged
// and swallowed: history loss must never take a cycle down.
func (l *Log) Session(kind string, fields Event) {
	ev := Event{"ts": store.Now(), "owner": l.Owner, "kind": kind}
	for k, v := range fields {
		ev[k] = v
	}

	var events []Event
	integrity.ReadJSON(l.SessionPath, &events)
	events = append(events, ev)
	if l.SessionCap > 0 && len(events) > l.SessionCap {
		events = events[len(events)-l.SessionCap:]
	}
	if err := l.guard.WriteAndSeal(l.SessionPath, events); err != nil {
		log.Printf("session log: %v", err)
	}
}

type auditDoc struct {
	Schema  int     `json:"schema"`
	History []Event `json:"history"`
}

// Audit appends one event to the audit log.
func (l *Log) Audit(fields Event) {
	ev := Event{"ts": store.Now(), "owner": l.Owner}
	for k, v := range fields {
		ev[k] = v
	}

	doc := auditDoc{Schema: 1}
	integrity.ReadJSON(l.AuditPath, &doc)
	doc.Schema = 1
	doc.History = append(doc.History, ev)
	if l.AuditCap > 0 && len(doc.History) > l.AuditCap {
		doc.History = doc.History[len(doc.History)-l.AuditCap:]
	}
	if err := l.guard.WriteAndSeal(l.AuditPath, doc); err != nil {
		log.Printf("audit log: %v", err)
	}
}

// RecentSessions returns the last n session events, oldest first.
func (l *Log) RecentSessions(n int) []Event {
	var events []Event
	integrity.ReadJSON(l.SessionPath, &events)
	if len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}
