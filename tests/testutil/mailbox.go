package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nhle/ticketwatch/internal/model"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	Raw      []byte
	ThreadID string
}

// LabelChange records one ModifyLabels call.
type LabelChange struct {
	ThreadID string
	Add      []string
	Remove   []string
}

// FakeMailbox is an in-memory mailbox.Mailbox. Threads are seeded directly;
// listings return every seeded thread id regardless of query, recording the
// query for assertion.
type FakeMailbox struct {
	mu sync.Mutex

	threads      map[string]model.Thread
	labels       map[string]string // name -> id
	attachments  map[string][]byte // messageID/attachmentID -> data
	Self         string
	Queries      []string
	LabelChanges []LabelChange
	Trashed      []string
	Sent         []SentMessage

	// ListErr, GetErr and ModifyErr, when set, fail the corresponding call.
	ListErr   error
	GetErr    error
	ModifyErr error
}

// NewFakeMailbox creates a fake mailbox authenticated as self.
func NewFakeMailbox(self string) *FakeMailbox {
	return &FakeMailbox{
		threads:     make(map[string]model.Thread),
		labels:      make(map[string]string),
		attachments: make(map[string][]byte),
		Self:        self,
	}
}

// AddThread seeds a thread.
func (f *FakeMailbox) AddThread(t model.Thread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[t.ID] = t
}

// RemoveThread deletes a seeded thread.
func (f *FakeMailbox) RemoveThread(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.threads, id)
}

// AddAttachment seeds an attachment body.
func (f *FakeMailbox) AddAttachment(messageID, attachmentID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments[messageID+"/"+attachmentID] = data
}

func (f *FakeMailbox) ListThreadIDs(_ context.Context, query string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, query)
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	ids := make([]string, 0, len(f.threads))
	for id := range f.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *FakeMailbox) GetThread(_ context.Context, threadID string) (model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return model.Thread{}, f.GetErr
	}
	t, ok := f.threads[threadID]
	if !ok {
		return model.Thread{}, fmt.Errorf("thread %s not found", threadID)
	}
	return t, nil
}

func (f *FakeMailbox) ModifyLabels(_ context.Context, threadID string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ModifyErr != nil {
		return f.ModifyErr
	}
	f.LabelChanges = append(f.LabelChanges, LabelChange{
		ThreadID: threadID,
		Add:      append([]string(nil), add...),
		Remove:   append([]string(nil), remove...),
	})
	return nil
}

func (f *FakeMailbox) GetOrCreateLabel(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.labels[name]; ok {
		return id, nil
	}
	id := fmt.Sprintf("label-%d", len(f.labels)+1)
	f.labels[name] = id
	return id, nil
}

func (f *FakeMailbox) TrashThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[threadID]; !ok {
		return fmt.Errorf("thread %s not found", threadID)
	}
	delete(f.threads, threadID)
	f.Trashed = append(f.Trashed, threadID)
	return nil
}

func (f *FakeMailbox) GetAttachment(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, fmt.Errorf("attachment %s/%s not found", messageID, attachmentID)
	}
	return data, nil
}

func (f *FakeMailbox) SendMessage(_ context.Context, raw []byte, threadID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentMessage{Raw: append([]byte(nil), raw...), ThreadID: threadID})
	return fmt.Sprintf("sent-%d", len(f.Sent)), nil
}

func (f *FakeMailbox) SelfAddress(_ context.Context) (string, error) {
	return f.Self, nil
}

// LabelID returns the id previously assigned to a label name, "" if none.
func (f *FakeMailbox) LabelID(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels[name]
}
