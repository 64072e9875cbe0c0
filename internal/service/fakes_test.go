package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"dashboard-messaging/internal/bus"
	"dashboard-messaging/internal/cache"
	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/repository"
)

// fakeStore implementa los repositorios de conversaciones, membresías,
// mensajes y usuarios sobre memoria.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]domain.User
	conversations map[string]domain.Conversation
	lastRead      map[string]time.Time // conv|user
	messages      []domain.Message
	createErr     error
	// clock hace de reloj de la base: sella created_at y lastReadAt.
	clock func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[string]domain.User{},
		conversations: map[string]domain.Conversation{},
		lastRead:      map[string]time.Time{},
		clock:         newStepClock().Now,
	}
}

func (f *fakeStore) addUser(id, companyID, name string) {
	f.users[id] = domain.User{ID: id, CompanyID: companyID, Email: id + "@example.com", DisplayName: name}
}

func (f *fakeStore) addConversation(id, companyID string, members ...string) {
	f.conversations[id] = domain.Conversation{ID: id, CompanyID: companyID, MemberIDs: members}
}

func memberKey(conv, user string) string { return conv + "|" + user }

func (f *fakeStore) Create(_ context.Context, conv domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[conv.ID] = conv
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return domain.Conversation{}, repository.ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) Access(_ context.Context, conversationID, userID string) (domain.ConversationAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok {
		return domain.ConversationAccess{}, repository.ErrNotFound
	}
	return domain.ConversationAccess{CompanyID: conv.CompanyID, IsMember: contains(conv.MemberIDs, userID)}, nil
}

func (f *fakeStore) ListForUser(_ context.Context, userID, companyID string) ([]domain.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.ConversationSummary{}
	for _, conv := range f.conversations {
		if conv.CompanyID != companyID || !contains(conv.MemberIDs, userID) {
			continue
		}
		out = append(out, domain.ConversationSummary{Conversation: conv, UnreadCount: f.unreadLocked(conv.ID, userID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) MarkRead(_ context.Context, conversationID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok || !contains(conv.MemberIDs, userID) {
		return 0, repository.ErrNotFound
	}
	at := f.clock()
	if prev, ok := f.lastRead[memberKey(conversationID, userID)]; !ok || at.After(prev) {
		f.lastRead[memberKey(conversationID, userID)] = at
	}
	var updated int64
	for i := range f.messages {
		m := &f.messages[i]
		if m.ConversationID != conversationID || m.SenderID == userID || m.Status == domain.MessageStatusRead {
			continue
		}
		if m.CreatedAt.After(at) {
			continue
		}
		m.Status = m.Status.Advance(domain.MessageStatusRead)
		readAt := at
		m.ReadAt = &readAt
		updated++
	}
	return updated, nil
}

func (f *fakeStore) UnreadCount(_ context.Context, conversationID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unreadLocked(conversationID, userID), nil
}

func (f *fakeStore) unreadLocked(conversationID, userID string) int64 {
	last, hasRead := f.lastRead[memberKey(conversationID, userID)]
	var n int64
	for _, m := range f.messages {
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		if !hasRead || m.CreatedAt.After(last) {
			n++
		}
	}
	return n
}

func (f *fakeStore) lastReadAt(conversationID, userID string) *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.lastRead[memberKey(conversationID, userID)]
	if !ok {
		return nil
	}
	return &last
}

// fakeMessages adapta fakeStore a MessageRepository (Create choca con el de conversaciones).
type fakeMessages struct{ *fakeStore }

func (f fakeMessages) Create(_ context.Context, message domain.Message) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return time.Time{}, f.createErr
	}
	message.CreatedAt = f.clock()
	f.messages = append(f.messages, message)
	if conv, ok := f.conversations[message.ConversationID]; ok {
		conv.UpdatedAt = message.CreatedAt
		f.conversations[message.ConversationID] = conv
	}
	return message.CreatedAt, nil
}

func (f fakeMessages) ListRecent(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// fakeUsers adapta fakeStore a UserRepository.
type fakeUsers struct{ *fakeStore }

func (f fakeUsers) GetByID(_ context.Context, id string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (f fakeUsers) ListByCompany(_ context.Context, companyID string) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.User{}
	for _, u := range f.users {
		if u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeUsers) CountInCompany(_ context.Context, companyID string, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if u, ok := f.users[id]; ok && u.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

type fakeNotificationRepo struct {
	mu        sync.Mutex
	rows      []domain.Notification
	createErr map[string]error // por destinatario
	countErr  error
	listCalls int
}

func (r *fakeNotificationRepo) Create(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.createErr[n.RecipientID]; err != nil {
		return err
	}
	r.rows = append(r.rows, n)
	return nil
}

func (r *fakeNotificationRepo) List(_ context.Context, userID, companyID string, limit, offset int, unreadOnly bool) ([]domain.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var matched []domain.Notification
	for i := len(r.rows) - 1; i >= 0; i-- {
		n := r.rows[i]
		if n.RecipientID != userID || n.CompanyID != companyID || (unreadOnly && n.Read) {
			continue
		}
		matched = append(matched, n)
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return []domain.Notification{}, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (r *fakeNotificationRepo) CountUnread(_ context.Context, userID, companyID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countErr != nil {
		return 0, r.countErr
	}
	var n int64
	for _, row := range r.rows {
		if row.RecipientID == userID && row.CompanyID == companyID && !row.Read {
			n++
		}
	}
	return n, nil
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, userID, companyID string, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated []string
	for i := range r.rows {
		row := &r.rows[i]
		if row.RecipientID != userID || row.CompanyID != companyID || row.Read || !contains(ids, row.ID) {
			continue
		}
		row.Read = true
		updated = append(updated, row.ID)
	}
	return updated, nil
}

func (r *fakeNotificationRepo) forRecipient(userID string) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, row := range r.rows {
		if row.RecipientID == userID {
			out = append(out, row)
		}
	}
	return out
}

// memCache es una caché en memoria que registra las invalidaciones.
type memCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	deleted  []string
	patterns []string
	getErr   error
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *memCache) DeletePattern(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, prefix)
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

func (c *memCache) DeleteBatch(_ context.Context, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.deleted = append(c.deleted, keys...)
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type publishedMsg struct {
	channel string
	payload []byte
}

type recordingBus struct {
	mu        sync.Mutex
	published []publishedMsg
	err       error
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, publishedMsg{channel: channel, payload: payload})
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, bus.Handler) (bus.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.published {
		if m.channel == channel {
			n++
		}
	}
	return n
}

type emitted struct {
	room  string
	event string
	data  any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) Emit(_ context.Context, room, event string, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{room: room, event: event, data: data})
	return nil
}

func (e *recordingEmitter) find(room, event string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.room == room && ev.event == event {
			out = append(out, ev)
		}
	}
	return out
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
	err    error
}

func newFakePresence(online ...string) *fakePresence {
	p := &fakePresence{online: map[string]bool{}}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *fakePresence) Connect(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return nil
}

func (p *fakePresence) Disconnect(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	return nil
}

func (p *fakePresence) Refresh(context.Context, string) error { return nil }

func (p *fakePresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false, p.err
	}
	return p.online[userID], nil
}

// stepClock avanza un milisegundo por llamada para que los timestamps sean estrictamente crecientes.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}
