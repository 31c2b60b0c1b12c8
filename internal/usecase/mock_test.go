//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/adapter"
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/ratelimit"
	"telegram-campaign-bot/internal/usecase"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// ---- Mock RecipientRepository ----

type MockRecipientRepo struct {
	mu      sync.Mutex
	order   []int64
	byChat  map[int64]*model.Recipient
	Blocked []int64

	ListActiveFunc func(ctx context.Context, tx repository.Tx, ownerID string) ([]*model.Recipient, error)
	FindOneFunc    func(ctx context.Context, tx repository.Tx, ownerID string, chatID int64) (*model.Recipient, error)
}

var _ repository.RecipientRepository = (*MockRecipientRepo)(nil)

func NewMockRecipientRepo(rs ...*model.Recipient) *MockRecipientRepo {
	m := &MockRecipientRepo{byChat: map[int64]*model.Recipient{}}
	for _, r := range rs {
		_ = m.Save(context.Background(), nil, r)
	}
	return m
}

// seedRecipients creates recipients with the given chat ids for owner "bot-1".
func seedRecipients(ids ...int64) *MockRecipientRepo {
	m := NewMockRecipientRepo()
	for _, id := range ids {
		_ = m.Save(context.Background(), nil, &model.Recipient{OwnerID: "bot-1", ChatID: id, FirstName: fmt.Sprintf("user%d", id)})
	}
	return m
}

func (m *MockRecipientRepo) ListActive(ctx context.Context, tx repository.Tx, ownerID string) ([]*model.Recipient, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, tx, ownerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Recipient
	for _, id := range m.order {
		r := m.byChat[id]
		if r.OwnerID == ownerID && !r.Blocked {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockRecipientRepo) FindOne(ctx context.Context, tx repository.Tx, ownerID string, chatID int64) (*model.Recipient, error) {
	if m.FindOneFunc != nil {
		return m.FindOneFunc(ctx, tx, ownerID, chatID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byChat[chatID]
	if !ok || r.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockRecipientRepo) Save(ctx context.Context, tx repository.Tx, r *model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byChat[r.ChatID]; !ok {
		m.order = append(m.order, r.ChatID)
	}
	cp := *r
	m.byChat[r.ChatID] = &cp
	return nil
}

func (m *MockRecipientRepo) MarkBlocked(ctx context.Context, tx repository.Tx, ownerID string, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byChat[chatID]; ok {
		r.Blocked = true
	}
	m.Blocked = append(m.Blocked, chatID)
	return nil
}

func (m *MockRecipientRepo) setBlocked(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byChat[chatID].Blocked = true
}

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu       sync.Mutex
	payments []*model.Payment
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo { return &MockPaymentRepo{} }

func (m *MockPaymentRepo) add(chatID int64, st model.PaymentStatus) {
	_ = m.Save(context.Background(), nil, &model.Payment{
		ID: fmt.Sprintf("pay-%d-%s", chatID, st), OwnerID: "bot-1", ChatID: chatID, Status: st,
	})
}

func (m *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments = append(m.payments, &cp)
	return nil
}

func inStates(st model.PaymentStatus, states []model.PaymentStatus) bool {
	for _, s := range states {
		if s == st {
			return true
		}
	}
	return false
}

func (m *MockPaymentRepo) HasPaymentInStates(ctx context.Context, tx repository.Tx, ownerID string, chatID int64, states []model.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OwnerID == ownerID && p.ChatID == chatID && inStates(p.Status, states) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockPaymentRepo) ChatsWithPaymentInStates(ctx context.Context, tx repository.Tx, ownerID string, states []model.PaymentStatus) (map[int64]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]struct{}{}
	for _, p := range m.payments {
		if p.OwnerID == ownerID && inStates(p.Status, states) {
			out[p.ChatID] = struct{}{}
		}
	}
	return out, nil
}

// ---- Mock CampaignRepository ----

type MockCampaignRepo struct {
	mu       sync.Mutex
	byID     map[string]*model.Campaign
	Archived map[string]json.RawMessage
	Deleted  []string

	GetFunc func(ctx context.Context, tx repository.Tx, campaignID, ownerID string) (*model.Campaign, error)
}

var _ repository.CampaignRepository = (*MockCampaignRepo)(nil)

func NewMockCampaignRepo(cs ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{byID: map[string]*model.Campaign{}, Archived: map[string]json.RawMessage{}}
	for _, c := range cs {
		_ = m.Save(context.Background(), nil, c)
	}
	return m
}

func (m *MockCampaignRepo) Get(ctx context.Context, tx repository.Tx, campaignID, ownerID string) (*model.Campaign, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, tx, campaignID, ownerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[campaignID]
	if !ok || c.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) Save(ctx context.Context, tx repository.Tx, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *MockCampaignRepo) ListActiveByTrigger(ctx context.Context, tx repository.Tx, ownerID string, trigger model.TriggerType) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Campaign
	for _, c := range m.byID {
		if c.OwnerID == ownerID && c.Active && c.Kind == model.CampaignKindDownsell && c.Trigger == trigger {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockCampaignRepo) ListDueScheduled(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Campaign
	for _, c := range m.byID {
		if c.Active && c.ScheduleType == model.ScheduleScheduled && c.DispatchedAt == nil &&
			c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockCampaignRepo) MarkDispatched(ctx context.Context, tx repository.Tx, campaignID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[campaignID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if c.DispatchedAt != nil {
		return false, nil
	}
	c.DispatchedAt = &at
	return true, nil
}

func (m *MockCampaignRepo) DeleteAfterFinalWave(ctx context.Context, tx repository.Tx, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, campaignID)
	m.Deleted = append(m.Deleted, campaignID)
	return nil
}

func (m *MockCampaignRepo) ArchivePlans(ctx context.Context, tx repository.Tx, campaignID string, plans json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Archived[campaignID] = plans
	return nil
}

// ---- Mock WaveJobRepository ----

type MockWaveJobRepo struct {
	mu   sync.Mutex
	Jobs []*model.WaveJob

	InsertWaveJobFunc func(ctx context.Context, tx repository.Tx, job *model.WaveJob) (string, error)
}

var _ repository.WaveJobRepository = (*MockWaveJobRepo)(nil)

func NewMockWaveJobRepo() *MockWaveJobRepo { return &MockWaveJobRepo{} }

func (m *MockWaveJobRepo) InsertWaveJob(ctx context.Context, tx repository.Tx, job *model.WaveJob) (string, error) {
	if m.InsertWaveJobFunc != nil {
		return m.InsertWaveJobFunc(ctx, tx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.Jobs = append(m.Jobs, &cp)
	return job.ID, nil
}

func (m *MockWaveJobRepo) ListDueJobs(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.WaveJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WaveJob
	for _, j := range m.Jobs {
		if j.Status == model.JobStatusPending && !j.ScheduleAt.After(now) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].ScheduleAt.Before(out[k].ScheduleAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockWaveJobRepo) ClaimJob(ctx context.Context, tx repository.Tx, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.Jobs {
		if j.ID == jobID {
			if j.Status != model.JobStatusPending {
				return false, nil
			}
			j.Status = model.JobStatusProcessing
			return true, nil
		}
	}
	return false, nil
}

func (m *MockWaveJobRepo) UpdateJobStatus(ctx context.Context, tx repository.Tx, jobID string, status model.JobStatus, counts *model.WaveCounts, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.Jobs {
		if j.ID == jobID {
			j.Status = status
			if counts != nil {
				j.SentCount, j.SkippedCount, j.FailedCount = counts.Sent, counts.Skipped, counts.Failed
			}
			j.LastError = lastErr
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockWaveJobRepo) ListStuck(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.WaveJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WaveJob
	for _, j := range m.Jobs {
		if j.Status == model.JobStatusProcessing && j.UpdatedAt.Before(olderThan) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *MockWaveJobRepo) ListByCampaign(ctx context.Context, tx repository.Tx, campaignID string) ([]*model.WaveJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WaveJob
	for _, j := range m.Jobs {
		if j.Context.CampaignID == campaignID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *MockWaveJobRepo) byID(id string) *model.WaveJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.Jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// ---- Mock ScheduledSendRepository ----

type MockScheduledSendRepo struct {
	mu    sync.Mutex
	Sends []*model.ScheduledSend
}

var _ repository.ScheduledSendRepository = (*MockScheduledSendRepo)(nil)

func NewMockScheduledSendRepo() *MockScheduledSendRepo { return &MockScheduledSendRepo{} }

func (m *MockScheduledSendRepo) Insert(ctx context.Context, tx repository.Tx, s *model.ScheduledSend) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.Sends = append(m.Sends, &cp)
	return s.ID, nil
}

func (m *MockScheduledSendRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ScheduledSend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ScheduledSend
	for _, s := range m.Sends {
		if s.Status == model.JobStatusPending && !s.ScheduleAt.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].ScheduleAt.Before(out[k].ScheduleAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockScheduledSendRepo) Claim(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sends {
		if s.ID == id && s.Status == model.JobStatusPending {
			s.Status = model.JobStatusProcessing
			return true, nil
		}
	}
	return false, nil
}

func (m *MockScheduledSendRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.JobStatus, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sends {
		if s.ID == id {
			s.Status = status
			s.LastError = lastErr
			return nil
		}
	}
	return domain.ErrNotFound
}

// ---- Mock DedupChecker + EventRecorder ----

// MockDeliveryLog is one dedup store; it also records deliveries into itself.
type MockDeliveryLog struct {
	mu      sync.Mutex
	sent    map[string]map[int64]struct{}
	Records int
}

var (
	_ repository.DedupChecker  = (*MockDeliveryLog)(nil)
	_ repository.EventRecorder = (*MockDeliveryLog)(nil)
)

func NewMockDeliveryLog() *MockDeliveryLog {
	return &MockDeliveryLog{sent: map[string]map[int64]struct{}{}}
}

func (m *MockDeliveryLog) markSent(campaignID string, chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent[campaignID] == nil {
		m.sent[campaignID] = map[int64]struct{}{}
	}
	m.sent[campaignID][chatID] = struct{}{}
}

func (m *MockDeliveryLog) SentAmong(ctx context.Context, tx repository.Tx, campaignID string, chatIDs []int64) (map[int64]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]struct{}{}
	for _, id := range chatIDs {
		if _, ok := m.sent[campaignID][id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *MockDeliveryLog) AlreadySent(ctx context.Context, tx repository.Tx, campaignID string, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sent[campaignID][chatID]
	return ok, nil
}

func (m *MockDeliveryLog) RecordDelivery(ctx context.Context, tx repository.Tx, ownerID string, chatID int64, kind model.CampaignKind, campaignID string) error {
	m.markSent(campaignID, chatID)
	m.mu.Lock()
	m.Records++
	m.mu.Unlock()
	return nil
}

// =============================
// Adapters
// =============================

// ---- Mock Sender ----

type MockSender struct {
	mu    sync.Mutex
	Calls []int64

	SendFunc func(ctx context.Context, chatID int64, c *model.CampaignSnapshot, rc adapter.RenderContext) adapter.SendResult
}

var _ adapter.Sender = (*MockSender)(nil)

func (m *MockSender) Send(ctx context.Context, chatID int64, c *model.CampaignSnapshot, rc adapter.RenderContext) adapter.SendResult {
	m.mu.Lock()
	m.Calls = append(m.Calls, chatID)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, chatID, c, rc)
	}
	return adapter.SendResult{OK: true}
}

// ---- Mock RateLimiter ----

type MockLimiter struct {
	mu         sync.Mutex
	Acquired   []int64
	Throttled  []int64
	RetryAfter []time.Duration

	AcquireFunc func(ctx context.Context, chatID int64) (ratelimit.AcquireResult, error)
}

var _ usecase.RateLimiter = (*MockLimiter)(nil)

func (m *MockLimiter) Acquire(ctx context.Context, chatID int64) (ratelimit.AcquireResult, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, chatID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acquired = append(m.Acquired, chatID)
	return ratelimit.AcquireResult{}, nil
}

func (m *MockLimiter) ReportThrottled(chatID int64, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Throttled = append(m.Throttled, chatID)
	m.RetryAfter = append(m.RetryAfter, retryAfter)
}

// ---- Mock Locker ----

type MockLocker struct {
	mu       sync.Mutex
	held     bool
	Unlocked int
	Extended int
	// LoseAfter makes Extend report a lost lease once it succeeded that many times.
	LoseAfter int
}

var _ usecase.Locker = (*MockLocker)(nil)

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return "", domain.ErrLockNotAcquired
	}
	m.held = true
	return "token", nil
}

func (m *MockLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held || (m.LoseAfter > 0 && m.Extended >= m.LoseAfter) {
		return domain.ErrLockNotAcquired
	}
	m.Extended++
	return nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.Unlocked++
	return nil
}

// --- Mock TransactionManager

type MockTxManager struct {
	mu    sync.Mutex
	Calls int

	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn with a nil tx unless WithTxFunc overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}

// =============================
// Wiring
// =============================

// engine bundles the use cases over in-memory stores.
type engine struct {
	recipients *MockRecipientRepo
	payments   *MockPaymentRepo
	campaigns  *MockCampaignRepo
	jobs       *MockWaveJobRepo
	sends      *MockScheduledSendRepo
	downsells  *MockDeliveryLog
	shots      *MockDeliveryLog
	sender     *MockSender
	limiter    *MockLimiter
	tm         *MockTxManager

	selector   usecase.TargetSelector
	planner    usecase.WavePlanner
	executor   usecase.WaveExecutor
	dispatcher usecase.CampaignDispatcher
}

// routingRecorder sends each delivery to the log of its kind.
type routingRecorder struct{ byKind map[model.CampaignKind]*MockDeliveryLog }

func (r routingRecorder) RecordDelivery(ctx context.Context, tx repository.Tx, ownerID string, chatID int64, kind model.CampaignKind, campaignID string) error {
	return r.byKind[kind].RecordDelivery(ctx, tx, ownerID, chatID, kind, campaignID)
}

func newEngine(recipients *MockRecipientRepo, campaigns ...*model.Campaign) *engine {
	e := &engine{
		recipients: recipients,
		payments:   NewMockPaymentRepo(),
		campaigns:  NewMockCampaignRepo(campaigns...),
		jobs:       NewMockWaveJobRepo(),
		sends:      NewMockScheduledSendRepo(),
		downsells:  NewMockDeliveryLog(),
		shots:      NewMockDeliveryLog(),
		sender:     &MockSender{},
		limiter:    &MockLimiter{},
		tm:         NewMockTxManager(),
	}
	log := newTestLogger()
	dedup := usecase.DedupRegistry{
		model.CampaignKindDownsell: e.downsells,
		model.CampaignKindShot:     e.shots,
	}
	recorder := routingRecorder{byKind: map[model.CampaignKind]*MockDeliveryLog{
		model.CampaignKindDownsell: e.downsells,
		model.CampaignKindShot:     e.shots,
	}}
	e.selector = usecase.NewTargetSelector(e.recipients, e.payments, e.campaigns, dedup, log)
	planner := usecase.NewWavePlanner(e.jobs, e.selector, e.tm, usecase.PlannerConfig{WaveSize: 20, WaveDuration: time.Second}, log)
	planner.SetClock(fixedClock(baseTime))
	e.planner = planner
	e.executor = usecase.NewWaveExecutor(e.selector, e.campaigns, e.recipients, recorder, e.limiter, e.sender, e.tm, log)
	dispatcher := usecase.NewCampaignDispatcher(e.campaigns, e.sends, e.selector, e.planner, e.tm, log)
	dispatcher.SetClock(fixedClock(baseTime))
	e.dispatcher = dispatcher
	return e
}

func shotCampaign(id string) *model.Campaign {
	return &model.Campaign{
		ID:           id,
		OwnerID:      "bot-1",
		Name:         "Black friday",
		Kind:         model.CampaignKindShot,
		Trigger:      model.TriggerStart,
		Active:       true,
		Content:      json.RawMessage(`{"text":"Hi {first_name}"}`),
		Plans:        json.RawMessage(`[{"name":"vip","payment_url":"https://pay.example/vip"}]`),
		ScheduleType: model.ScheduleImmediate,
	}
}

func downsellCampaign(id string, trigger model.TriggerType) *model.Campaign {
	return &model.Campaign{
		ID:           id,
		OwnerID:      "bot-1",
		Name:         "Come back",
		Kind:         model.CampaignKindDownsell,
		Trigger:      trigger,
		Active:       true,
		Content:      json.RawMessage(`{"text":"Still there?"}`),
		DelayMinutes: 15,
		ScheduleType: model.ScheduleImmediate,
	}
}
