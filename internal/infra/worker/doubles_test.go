package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
	"voice-calendar-pipeline/internal/domain/ports/repository"
	"voice-calendar-pipeline/internal/usecase"
)

// memQueue mirrors the Redis queue's visibility-lock semantics in memory:
// a dequeued job is claimed for lockTTL; expired claims are reaped back to
// the ready list with the attempt count untouched.
type memQueue struct {
	mu       sync.Mutex
	lockTTL  time.Duration
	poll     time.Duration
	ready    map[model.Stage][]string
	delayed  map[string]time.Time
	inflight map[string]memClaim
	tokens   map[string]string // job id -> token held by this process
	jobs     map[string]model.Job
	seq      int
}

type memClaim struct {
	token    string
	deadline time.Time
}

func newMemQueue(lockTTL time.Duration) *memQueue {
	return &memQueue{
		lockTTL:  lockTTL,
		poll:     2 * time.Millisecond,
		ready:    map[model.Stage][]string{},
		delayed:  map[string]time.Time{},
		inflight: map[string]memClaim{},
		tokens:   map[string]string{},
		jobs:     map[string]model.Job{},
	}
}

func (q *memQueue) Enqueue(_ context.Context, job model.Job, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	if notBefore.After(time.Now()) {
		q.delayed[job.ID] = notBefore
	} else {
		q.ready[job.Stage] = append(q.ready[job.Stage], job.ID)
	}
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context) (*model.Job, error) {
	for {
		q.mu.Lock()
		q.reapLocked()
		for _, stage := range model.StagesByWeight() {
			ids := q.ready[stage]
			if len(ids) == 0 {
				continue
			}
			id := ids[0]
			q.ready[stage] = ids[1:]
			job, ok := q.jobs[id]
			if !ok {
				continue
			}
			q.seq++
			token := fmt.Sprintf("token-%d", q.seq)
			q.inflight[id] = memClaim{token: token, deadline: time.Now().Add(q.lockTTL)}
			q.tokens[id] = token
			cp := job
			q.mu.Unlock()
			return &cp, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

func (q *memQueue) reapLocked() {
	now := time.Now()
	for id, nb := range q.delayed {
		if nb.After(now) {
			continue
		}
		delete(q.delayed, id)
		if job, ok := q.jobs[id]; ok {
			q.ready[job.Stage] = append(q.ready[job.Stage], id)
		}
	}
	for id, c := range q.inflight {
		if c.deadline.After(now) {
			continue
		}
		delete(q.inflight, id)
		if job, ok := q.jobs[id]; ok {
			q.ready[job.Stage] = append(q.ready[job.Stage], id)
		}
	}
}

func (q *memQueue) releaseLocked(jobID string) error {
	token, ok := q.tokens[jobID]
	delete(q.tokens, jobID)
	if !ok {
		return domain.ErrLockLost
	}
	c, ok := q.inflight[jobID]
	if !ok || c.token != token || !c.deadline.After(time.Now()) {
		return domain.ErrLockLost
	}
	delete(q.inflight, jobID)
	return nil
}

func (q *memQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.releaseLocked(jobID)
}

func (q *memQueue) Nack(_ context.Context, jobID string, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := q.releaseLocked(jobID); err != nil {
		return err
	}
	if notBefore.After(time.Now()) {
		q.delayed[jobID] = notBefore
	} else {
		q.ready[job.Stage] = append(q.ready[job.Stage], jobID)
	}
	return nil
}

func (q *memQueue) Remove(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if ok {
		ids := q.ready[job.Stage]
		for i, id := range ids {
			if id == jobID {
				q.ready[job.Stage] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
	delete(q.delayed, jobID)
	delete(q.inflight, jobID)
	delete(q.tokens, jobID)
	delete(q.jobs, jobID)
	return nil
}

func (q *memQueue) Contains(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[jobID]
	return ok, nil
}

func (q *memQueue) Depths(_ context.Context) (map[model.Stage]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[model.Stage]int{}
	for stage, ids := range q.ready {
		out[stage] = len(ids)
	}
	return out, nil
}

func (q *memQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ids := range q.ready {
		if len(ids) > 0 {
			return false
		}
	}
	return len(q.delayed) == 0 && len(q.inflight) == 0
}

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]model.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]model.Job{}}
}

func (m *memJobRepo) Create(_ context.Context, _ repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobRepo) Save(_ context.Context, _ repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobRepo) Delete(_ context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *memJobRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := j
	return &cp, nil
}

func (m *memJobRepo) FindActiveByMessageID(_ context.Context, _ repository.Tx, messageID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.MessageID == messageID && !j.Terminal() {
			cp := j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) get(id string) (model.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

type memDLQRepo struct {
	mu      sync.Mutex
	entries map[string]repository.DeadLetterEntry
	nextID  int
}

func newMemDLQRepo() *memDLQRepo {
	return &memDLQRepo{entries: map[string]repository.DeadLetterEntry{}}
}

func (m *memDLQRepo) Add(_ context.Context, _ repository.Tx, job model.Job, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Job.ID == job.ID {
			return nil
		}
	}
	m.nextID++
	id := fmt.Sprintf("entry-%d", m.nextID)
	m.entries[id] = repository.DeadLetterEntry{ID: id, Job: job, Cause: cause, FailedAt: time.Now().UTC()}
	return nil
}

func (m *memDLQRepo) List(_ context.Context, _ repository.Tx, f repository.DLQFilter) ([]*repository.DeadLetterEntry, error) {
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

func (m *memDLQRepo) FindByID(_ context.Context, _ repository.Tx, entryID string) (*repository.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (m *memDLQRepo) Delete(_ context.Context, _ repository.Tx, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entryID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.entries, entryID)
	return nil
}

func (m *memDLQRepo) PurgeOlderThan(_ context.Context, _ repository.Tx, cutoff time.Time) (int, error) {
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

func (m *memDLQRepo) Count(_ context.Context, _ repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *memDLQRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memDLQRepo) one() (repository.DeadLetterEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		return e, true
	}
	return repository.DeadLetterEntry{}, false
}

type memClarificationStore struct {
	mu     sync.Mutex
	parked map[string]model.Job
}

func newMemClarificationStore() *memClarificationStore {
	return &memClarificationStore{parked: map[string]model.Job{}}
}

func (m *memClarificationStore) Park(_ context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parked[job.ID] = job
	return nil
}

func (m *memClarificationStore) Take(_ context.Context, jobID string) (*model.Job, error) {
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

func (m *memClarificationStore) JobIDForChat(_ context.Context, chatID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.parked {
		if j.Payload.SourceChatID == chatID {
			return id, nil
		}
	}
	return "", domain.ErrNotFound
}

func (m *memClarificationStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.parked), nil
}

// fakeMessenger records outbound traffic; all calls succeed.
type fakeMessenger struct {
	mu     sync.Mutex
	sent   []adapter.SendMessageParams
	asked  []string
	fileBy map[string]string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{fileBy: map[string]string{}}
}

func (f *fakeMessenger) SendMessage(_ context.Context, p adapter.SendMessageParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeMessenger) AskClarification(_ context.Context, _ int64, question string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, question)
	return nil
}

func (f *fakeMessenger) VoiceFileURL(_ context.Context, fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

func (f *fakeMessenger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMessenger) askedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.asked)
}

type fakeTranscriber struct {
	text string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (adapter.Transcription, error) {
	return adapter.Transcription{Text: f.text, Language: "en", Model: "test"}, nil
}

// fakeResolver answers classification with a fixed operation and serves
// resolution drafts in order, repeating the last one.
type fakeResolver struct {
	mu       sync.Mutex
	op       string
	classErr error
	drafts   []adapter.IntentDraft
	calls    int
}

func (f *fakeResolver) ClassifyOperation(_ context.Context, _ string) (string, error) {
	if f.classErr != nil {
		return "", f.classErr
	}
	return f.op, nil
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (adapter.IntentDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.drafts) {
		i = len(f.drafts) - 1
	}
	f.calls++
	return f.drafts[i], nil
}

type fakeCalendar struct {
	mu        sync.Mutex
	createErr func(attempt int) error
	creates   int
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ adapter.EventDetails) (adapter.EventRef, error) {
	f.mu.Lock()
	f.creates++
	n := f.creates
	f.mu.Unlock()
	if f.createErr != nil {
		if err := f.createErr(n); err != nil {
			return adapter.EventRef{}, err
		}
	}
	return adapter.EventRef{ID: "ev-1", Link: "https://cal.example/ev-1"}, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, eventID string, _ adapter.EventDetails) (adapter.EventRef, error) {
	return adapter.EventRef{ID: eventID}, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _ string) error { return nil }

func (f *fakeCalendar) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// harness wires a real dispatch, retry policy and dead-letter use case
// around the in-memory stores.
type harness struct {
	queue     *memQueue
	jobs      *memJobRepo
	dlqRepo   *memDLQRepo
	parked    *memClarificationStore
	dlqUC     usecase.DeadLetterUseCase
	messenger *fakeMessenger
	resolver  *fakeResolver
	calendar  *fakeCalendar
	pool      *Pool
}

func newHarness(resolver *fakeResolver, calendar *fakeCalendar, retry usecase.RetryPolicy) *harness {
	log := zerolog.Nop()
	queue := newMemQueue(500 * time.Millisecond)
	jobs := newMemJobRepo()
	dlqRepo := newMemDLQRepo()
	parked := newMemClarificationStore()
	messenger := newFakeMessenger()
	transcriber := &fakeTranscriber{text: "schedule lunch tomorrow"}

	dispatch := usecase.NewDispatch()
	for stage, h := range map[model.Stage]usecase.StageHandler{
		model.StageWebhookReceived:       usecase.NewWebhookReceivedHandler(),
		model.StageAudioDownload:         usecase.NewAudioDownloadHandler(messenger),
		model.StageTranscription:         usecase.NewTranscriptionHandler(transcriber),
		model.StageIntentAnalysis:        usecase.NewIntentAnalysisHandler(resolver),
		model.StageIntentBuildContext:    usecase.NewIntentBuildContextHandler(nil, "test", 0, &log),
		model.StageIntentRequest:         usecase.NewIntentRequestHandler(resolver),
		model.StageClarificationDispatch: usecase.NewClarificationDispatchHandler(messenger),
		model.StageEventCreate:           usecase.NewEventCreateHandler(calendar),
		model.StageEventUpdate:           usecase.NewEventUpdateHandler(calendar),
		model.StageEventDelete:           usecase.NewEventDeleteHandler(calendar),
		model.StageNotificationSend:      usecase.NewNotificationSendHandler(messenger),
	} {
		if err := dispatch.Register(stage, h); err != nil {
			panic(err)
		}
	}

	dlqUC := usecase.NewDeadLetterUseCase(dlqRepo, jobs, queue, &log)
	pool := NewPool(queue, jobs, parked, dlqUC, dispatch, retry, 2, time.Second, &log)

	return &harness{
		queue:     queue,
		jobs:      jobs,
		dlqRepo:   dlqRepo,
		parked:    parked,
		dlqUC:     dlqUC,
		messenger: messenger,
		resolver:  resolver,
		calendar:  calendar,
		pool:      pool,
	}
}
