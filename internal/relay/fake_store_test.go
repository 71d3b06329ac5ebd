package relay

import (
	"context"
	"errors"
	"time"

	"taskpulse/internal/domain"
	"taskpulse/internal/recurrence"
)

type fakeStore struct {
	tasks     []domain.TaskEntity
	rules     map[string]recurrence.RuleEntity
	touched   map[string]time.Time
	insertErr error
	ruleErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:   map[string]recurrence.RuleEntity{},
		touched: map[string]time.Time{},
	}
}

func (f *fakeStore) InsertTask(_ context.Context, ent domain.TaskEntity) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.tasks = append(f.tasks, ent)
	return nil
}

func (f *fakeStore) GetRule(_ context.Context, _, taskID string) (*recurrence.RuleEntity, error) {
	if f.ruleErr != nil {
		return nil, f.ruleErr
	}
	rule, ok := f.rules[taskID]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (f *fakeStore) TouchRule(_ context.Context, _, taskID string, generatedAt time.Time) error {
	if _, ok := f.rules[taskID]; !ok {
		return errors.New("rule not found")
	}
	f.touched[taskID] = generatedAt
	return nil
}

type fakeDedup struct {
	keys    map[string]struct{}
	addErr  error
	removed []string
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{keys: map[string]struct{}{}}
}

func (f *fakeDedup) Add(_ context.Context, userID, key string) (bool, error) {
	if f.addErr != nil {
		return false, f.addErr
	}
	full := userID + ":" + key
	if _, ok := f.keys[full]; ok {
		return false, nil
	}
	f.keys[full] = struct{}{}
	return true, nil
}

func (f *fakeDedup) Remove(_ context.Context, userID, key string) error {
	full := userID + ":" + key
	delete(f.keys, full)
	f.removed = append(f.removed, full)
	return nil
}

type fakeAudit struct {
	entries []domain.AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, entry domain.AuditEntry) {
	f.entries = append(f.entries, entry)
}

type fakeNotify struct {
	events []domain.Event
	err    error
}

func (f *fakeNotify) Deliver(_ context.Context, ev domain.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}
