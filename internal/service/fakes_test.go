package service

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/internal/repository"
)

type fakeIdentityStore struct {
	mu            sync.Mutex
	identities    map[string]*models.Identity
	refreshTokens map[string]*models.RefreshToken
	auditLogs     []*models.AuditLog
	merges        int
	findErr       error
	mergeErr      error
}

func newFakeIdentityStore(identities ...*models.Identity) *fakeIdentityStore {
	store := &fakeIdentityStore{identities: map[string]*models.Identity{}, refreshTokens: map[string]*models.RefreshToken{}}
	for _, identity := range identities {
		store.identities[identity.ID] = cloneIdentity(identity)
	}
	return store
}

func cloneIdentity(in *models.Identity) *models.Identity {
	out := *in
	out.AppMetadata = models.Attributes{}
	for k, v := range in.AppMetadata {
		out.AppMetadata[k] = v
	}
	out.UserMetadata = models.Attributes{}
	for k, v := range in.UserMetadata {
		out.UserMetadata[k] = v
	}
	return &out
}

func (f *fakeIdentityStore) get(id string) *models.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if identity, ok := f.identities[id]; ok {
		return cloneIdentity(identity)
	}
	return nil
}

func (f *fakeIdentityStore) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if identity := f.get(id); identity != nil {
		return identity, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeIdentityStore) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, identity := range f.identities {
		if identity.Email == email {
			return cloneIdentity(identity), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeIdentityStore) List(ctx context.Context, filter models.IdentityFilter) ([]models.Identity, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	ids := make([]string, 0, len(f.identities))
	for id, identity := range f.identities {
		if search != "" && !identityMatches(identity, search) {
			continue
		}
		if filter.Approved != nil && identity.ApprovedForParty() != *filter.Approved {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start := (filter.Page - 1) * filter.PageSize
	out := make([]models.Identity, 0)
	for i := start; i < len(ids) && i < start+filter.PageSize; i++ {
		out = append(out, *cloneIdentity(f.identities[ids[i]]))
	}
	return out, len(ids), nil
}

func identityMatches(identity *models.Identity, search string) bool {
	fields := []string{identity.Email}
	for _, key := range []string{models.AttrFirstName, models.AttrLastName, models.AttrNome, models.AttrCognome} {
		fields = append(fields, identity.UserMetadata.String(key))
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func (f *fakeIdentityStore) CountApproved(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, identity := range f.identities {
		if identity.ApprovedForParty() {
			total++
		}
	}
	return total, nil
}

func (f *fakeIdentityStore) Create(ctx context.Context, identity *models.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.identities {
		if existing.Email == identity.Email {
			return repository.ErrDuplicate
		}
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	f.identities[identity.ID] = cloneIdentity(identity)
	return nil
}

func (f *fakeIdentityStore) merge(id string, pick func(*models.Identity) models.Attributes, patch models.Attributes) (*models.Identity, error) {
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.identities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	f.merges++
	attrs := pick(identity)
	for k, v := range patch {
		attrs[k] = v
	}
	identity.UpdatedAt = time.Now().UTC()
	return cloneIdentity(identity), nil
}

func (f *fakeIdentityStore) MergeUserMetadata(ctx context.Context, id string, patch models.Attributes) (*models.Identity, error) {
	return f.merge(id, func(i *models.Identity) models.Attributes {
		if i.UserMetadata == nil {
			i.UserMetadata = models.Attributes{}
		}
		return i.UserMetadata
	}, patch)
}

func (f *fakeIdentityStore) MergeAppMetadata(ctx context.Context, id string, patch models.Attributes) (*models.Identity, error) {
	return f.merge(id, func(i *models.Identity) models.Attributes {
		if i.AppMetadata == nil {
			i.AppMetadata = models.Attributes{}
		}
		return i.AppMetadata
	}, patch)
}

func (f *fakeIdentityStore) UpdateLastSignIn(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (f *fakeIdentityStore) Count(ctx context.Context, since *time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, identity := range f.identities {
		if since == nil || !identity.CreatedAt.Before(*since) {
			total++
		}
	}
	return total, nil
}

func (f *fakeIdentityStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *token
	f.refreshTokens[token.TokenHash] = &copied
	return nil
}

func (f *fakeIdentityStore) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token, ok := f.refreshTokens[tokenHash]; ok {
		copied := *token
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeIdentityStore) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range f.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (f *fakeIdentityStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLogs = append(f.auditLogs, log)
	return nil
}

type fakeEventStore struct {
	events  map[string]*models.Event
	inserts int
	updates int
	listErr error
	filters []models.EventFilter

	// beforeUpdate runs against the stored row ahead of each write.
	beforeUpdate func(stored *models.Event)
}

func newFakeEventStore(events ...*models.Event) *fakeEventStore {
	store := &fakeEventStore{events: map[string]*models.Event{}}
	for _, event := range events {
		copied := *event
		store.events[event.ID] = &copied
	}
	return store
}

func (f *fakeEventStore) FindByID(ctx context.Context, id string) (*models.Event, error) {
	if event, ok := f.events[id]; ok {
		copied := *event
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEventStore) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	out := make([]models.Event, 0, len(f.events))
	for _, event := range f.events {
		copied := *event
		copied.MarkPast(filter.Now)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataInizio.Before(out[j].DataInizio) })
	return out, len(out), nil
}

func (f *fakeEventStore) Create(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	f.inserts++
	copied := *event
	f.events[event.ID] = &copied
	return nil
}

func (f *fakeEventStore) Update(ctx context.Context, event *models.Event, previous models.EventStatus) error {
	stored, ok := f.events[event.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if f.beforeUpdate != nil {
		f.beforeUpdate(stored)
	}
	status := stored.Stato
	if event.Stato != previous {
		if stored.Stato != previous {
			return repository.ErrStaleStatus
		}
		status = event.Stato
	}
	f.updates++
	copied := *event
	copied.Stato = status
	copied.UpdatedAt = time.Now().UTC()
	f.events[event.ID] = &copied
	*event = copied
	return nil
}

func (f *fakeEventStore) Delete(ctx context.Context, id string) error {
	if _, ok := f.events[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.events, id)
	return nil
}

func (f *fakeEventStore) Count(ctx context.Context) (int, error) {
	return len(f.events), nil
}

func (f *fakeEventStore) CountUpcoming(ctx context.Context, after time.Time) (int, error) {
	total := 0
	for _, event := range f.events {
		if event.DataInizio.After(after) && event.Stato == models.EventStatusPlanned {
			total++
		}
	}
	return total, nil
}

func (f *fakeEventStore) CountByTime(ctx context.Context, boundary time.Time) (models.EventTimeSplit, error) {
	var split models.EventTimeSplit
	for _, event := range f.events {
		if event.DataInizio.Before(boundary) {
			split.Past++
		} else {
			split.Future++
		}
	}
	return split, nil
}

func (f *fakeEventStore) bucket(key func(*models.Event) string) []models.CountBucket {
	counts := map[string]int{}
	for _, event := range f.events {
		counts[key(event)]++
	}
	out := make([]models.CountBucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.CountBucket{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (f *fakeEventStore) CountByMonth(ctx context.Context) ([]models.CountBucket, error) {
	return f.bucket(func(e *models.Event) string { return e.DataInizio.UTC().Format("2006-01") }), nil
}

func (f *fakeEventStore) CountByLocation(ctx context.Context) ([]models.CountBucket, error) {
	out := f.bucket(func(e *models.Event) string { return e.Location })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

func (f *fakeEventStore) CountByStatus(ctx context.Context) (map[models.EventStatus]int, error) {
	out := map[models.EventStatus]int{}
	for _, status := range models.EventStatuses {
		out[status] = 0
	}
	for _, event := range f.events {
		out[event.Stato]++
	}
	return out, nil
}

func (f *fakeEventStore) AverageCapacity(ctx context.Context) (int, error) {
	if len(f.events) == 0 {
		return 0, nil
	}
	total := 0
	for _, event := range f.events {
		total += event.MaxPartecipanti
	}
	return int(math.Round(float64(total) / float64(len(f.events)))), nil
}

type fakeParticipationStore struct {
	mu       sync.Mutex
	items    map[string]*models.Participation
	capacity map[string]int
}

func newFakeParticipationStore(items ...*models.Participation) *fakeParticipationStore {
	store := &fakeParticipationStore{items: map[string]*models.Participation{}, capacity: map[string]int{}}
	for _, item := range items {
		copied := *item
		store.items[item.ID] = &copied
	}
	return store
}

func (f *fakeParticipationStore) Create(ctx context.Context, p *models.Participation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	copied := *p
	f.items[p.ID] = &copied
	return nil
}

func (f *fakeParticipationStore) FindByID(ctx context.Context, id string) (*models.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.items[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeParticipationStore) list(match func(*models.Participation) bool) []models.ParticipationDetail {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ParticipationDetail, 0)
	for _, p := range f.items {
		if match(p) {
			out = append(out, models.ParticipationDetail{Participation: *p})
		}
	}
	return out
}

func (f *fakeParticipationStore) ListByEvent(ctx context.Context, eventID string) ([]models.ParticipationDetail, error) {
	return f.list(func(p *models.Participation) bool { return p.FestaID == eventID }), nil
}

func (f *fakeParticipationStore) ListByUser(ctx context.Context, userID string) ([]models.ParticipationDetail, error) {
	return f.list(func(p *models.Participation) bool { return p.UserID == userID }), nil
}

func (f *fakeParticipationStore) UpdateStatus(ctx context.Context, id string, from, to models.ParticipationStatus, note *string) (*models.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.move(id, from, to, note)
}

func (f *fakeParticipationStore) Confirm(ctx context.Context, id string, from models.ParticipationStatus, note *string) (*models.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if limit := f.capacity[p.FestaID]; limit > 0 {
		taken := 0
		for _, other := range f.items {
			if other.FestaID == p.FestaID && other.Stato == models.ParticipationConfirmed {
				taken++
			}
		}
		if taken >= limit {
			return nil, repository.ErrCapacityReached
		}
	}
	return f.move(id, from, models.ParticipationConfirmed, note)
}

func (f *fakeParticipationStore) move(id string, from, to models.ParticipationStatus, note *string) (*models.Participation, error) {
	p, ok := f.items[id]
	if !ok || p.Stato != from {
		return nil, sql.ErrNoRows
	}
	p.Stato = to
	if note != nil {
		p.Note = *note
	}
	copied := *p
	return &copied, nil
}

func (f *fakeParticipationStore) CountConfirmedByEvent(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, p := range f.items {
		if p.Stato == models.ParticipationConfirmed {
			out[p.FestaID]++
		}
	}
	return out, nil
}

func (f *fakeParticipationStore) CountByStatus(ctx context.Context) (map[models.ParticipationStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[models.ParticipationStatus]int{}
	for _, status := range models.ParticipationStatuses {
		out[status] = 0
	}
	for _, p := range f.items {
		out[p.Stato]++
	}
	return out, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (f *fakeNotifier) Notify(n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func adminPrincipal() *models.Principal {
	return &models.Principal{ID: "00000000-0000-0000-0000-0000000000ad", Email: "admin@example.com", IsAdmin: true}
}

func memberPrincipal() *models.Principal {
	return &models.Principal{ID: "00000000-0000-0000-0000-0000000000bb", Email: "member@example.com"}
}
