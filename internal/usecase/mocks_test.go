package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
	"voice-calendar-pipeline/internal/domain/ports/repository"
)

// Hand-written function-field mocks. Only the methods a test sets are
// expected to be called; a nil field panics, which is the point.

type mockJobRepo struct {
	mu     sync.Mutex
	jobs   map[string]model.Job // by job id
	byMsg  map[string]string    // live message id -> job id
	create func(job *model.Job) error
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: map[string]model.Job{}, byMsg: map[string]string{}}
}

func (m *mockJobRepo) Create(_ context.Context, _ repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.create != nil {
		if err := m.create(job); err != nil {
			return err
		}
	}
	if id, ok := m.byMsg[job.MessageID]; ok {
		if existing := m.jobs[id]; !existing.Terminal() {
			return domain.ErrAlreadyExists
		}
	}
	m.jobs[job.ID] = *job
	m.byMsg[job.MessageID] = job.ID
	return nil
}

func (m *mockJobRepo) Save(_ context.Context, _ repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	m.byMsg[job.MessageID] = job.ID
	return nil
}

func (m *mockJobRepo) Delete(_ context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.jobs, id)
	if m.byMsg[j.MessageID] == id {
		delete(m.byMsg, j.MessageID)
	}
	return nil
}

func (m *mockJobRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := j
	return &cp, nil
}

func (m *mockJobRepo) FindActiveByMessageID(_ context.Context, _ repository.Tx, messageID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byMsg[messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	j := m.jobs[id]
	if j.Terminal() {
		return nil, domain.ErrNotFound
	}
	cp := j
	return &cp, nil
}

type mockQueue struct {
	mu       sync.Mutex
	enqueued []model.Job
	removed  []string
	acked    []string
	enqueue  func(job model.Job, notBefore time.Time) error
	contains func(jobID string) (bool, error)
}

func (m *mockQueue) Enqueue(_ context.Context, job model.Job, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueue != nil {
		if err := m.enqueue(job, notBefore); err != nil {
			return err
		}
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

func (m *mockQueue) Dequeue(ctx context.Context) (*model.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockQueue) Ack(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, jobID)
	return nil
}

func (m *mockQueue) Nack(_ context.Context, jobID string, _ time.Time) error { return nil }

func (m *mockQueue) Remove(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, jobID)
	return nil
}

func (m *mockQueue) Contains(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contains != nil {
		return m.contains(jobID)
	}
	for _, id := range m.removed {
		if id == jobID {
			return false, nil
		}
	}
	for _, j := range m.enqueued {
		if j.ID == jobID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockQueue) Depths(_ context.Context) (map[model.Stage]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.Stage]int{}
	for _, j := range m.enqueued {
		out[j.Stage]++
	}
	return out, nil
}

// mockTxManager runs the function inline; the repositories above ignore tx.
type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

type mockDLQRepo struct {
	mu      sync.Mutex
	entries map[string]repository.DeadLetterEntry // by entry id
	nextID  int
}

func newMockDLQRepo() *mockDLQRepo {
	return &mockDLQRepo{entries: map[string]repository.DeadLetterEntry{}}
}

func (m *mockDLQRepo) Add(_ context.Context, _ repository.Tx, job model.Job, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Job.ID == job.ID {
			return nil // idempotent on job id
		}
	}
	m.nextID++
	id := fmt.Sprintf("entry-%d", m.nextID)
	m.entries[id] = repository.DeadLetterEntry{ID: id, Job: job, Cause: cause, FailedAt: time.Now().UTC()}
	return nil
}

func (m *mockDLQRepo) List(_ context.Context, _ repository.Tx, f repository.DLQFilter) ([]*repository.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.DeadLetterEntry
	for _, e := range m.entries {
		if f.Stage != "" && e.Job.Stage != f.Stage {
			continue
		}
		if f.MessageID != "" && e.Job.MessageID != f.MessageID {
			continue
		}
		cp := e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockDLQRepo) FindByID(_ context.Context, _ repository.Tx, entryID string) (*repository.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (m *mockDLQRepo) Delete(_ context.Context, _ repository.Tx, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entryID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.entries, entryID)
	return nil
}

func (m *mockDLQRepo) PurgeOlderThan(_ context.Context, _ repository.Tx, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if e.FailedAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *mockDLQRepo) Count(_ context.Context, _ repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

type mockClarificationStore struct {
	mu     sync.Mutex
	parked map[string]model.Job
}

func newMockClarificationStore() *mockClarificationStore {
	return &mockClarificationStore{parked: map[string]model.Job{}}
}

func (m *mockClarificationStore) Park(_ context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parked[job.ID] = job
	return nil
}

func (m *mockClarificationStore) Take(_ context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.parked[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(m.parked, jobID)
	cp := j
	return &cp, nil
}

func (m *mockClarificationStore) JobIDForChat(_ context.Context, chatID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.parked {
		if j.Payload.SourceChatID == chatID {
			return id, nil
		}
	}
	return "", domain.ErrNotFound
}

func (m *mockClarificationStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.parked), nil
}

type mockRateLimiter struct {
	allow func(key string, limit int, window time.Duration) (bool, error)
}

func (m *mockRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.allow == nil {
		return true, nil
	}
	return m.allow(key, limit, window)
}

type mockMessenger struct {
	sendMessage      func(p adapter.SendMessageParams) error
	askClarification func(chatID int64, question string) error
	voiceFileURL     func(fileID string) (string, error)
}

func (m *mockMessenger) SendMessage(_ context.Context, p adapter.SendMessageParams) error {
	return m.sendMessage(p)
}

func (m *mockMessenger) AskClarification(_ context.Context, chatID int64, question string) error {
	return m.askClarification(chatID, question)
}

func (m *mockMessenger) VoiceFileURL(_ context.Context, fileID string) (string, error) {
	return m.voiceFileURL(fileID)
}

type mockTranscriber struct {
	transcribe func(audioURL string) (adapter.Transcription, error)
}

func (m *mockTranscriber) Transcribe(_ context.Context, audioURL string) (adapter.Transcription, error) {
	return m.transcribe(audioURL)
}

type mockIntentResolver struct {
	classify func(transcript string) (string, error)
	resolve  func(promptContext string) (adapter.IntentDraft, error)
}

func (m *mockIntentResolver) ClassifyOperation(_ context.Context, transcript string) (string, error) {
	return m.classify(transcript)
}

func (m *mockIntentResolver) Resolve(_ context.Context, promptContext string) (adapter.IntentDraft, error) {
	return m.resolve(promptContext)
}

type mockCalendar struct {
	create func(d adapter.EventDetails) (adapter.EventRef, error)
	update func(eventID string, d adapter.EventDetails) (adapter.EventRef, error)
	delete func(eventID string) error
}

func (m *mockCalendar) CreateEvent(_ context.Context, d adapter.EventDetails) (adapter.EventRef, error) {
	return m.create(d)
}

func (m *mockCalendar) UpdateEvent(_ context.Context, eventID string, d adapter.EventDetails) (adapter.EventRef, error) {
	return m.update(eventID, d)
}

func (m *mockCalendar) DeleteEvent(_ context.Context, eventID string) error {
	return m.delete(eventID)
}

type mockTokenCounter struct {
	count func(model, text string) (int, error)
}

func (m *mockTokenCounter) CountTokens(model, text string) (int, error) {
	return m.count(model, text)
}
