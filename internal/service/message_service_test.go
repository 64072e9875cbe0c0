package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dashboard-messaging/internal/bus"
	"dashboard-messaging/internal/cache"
	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/events"
	"dashboard-messaging/internal/realtime"
)

type messagingFixture struct {
	store    *fakeStore
	cache    *memCache
	bus      *recordingBus
	emitter  *recordingEmitter
	presence *fakePresence
	svc      *MessagingService
}

func newMessagingFixture() *messagingFixture {
	store := newFakeStore()
	store.addUser("a", "co1", "Ana")
	store.addUser("b", "co1", "Bruno")
	store.addUser("x", "co1", "Xavi")
	store.addUser("z", "co2", "Zoe")
	store.addConversation("c1", "co1", "a", "b")

	f := &messagingFixture{
		store:    store,
		cache:    newMemCache(),
		bus:      &recordingBus{},
		emitter:  &recordingEmitter{},
		presence: newFakePresence(),
	}
	f.svc = NewMessagingService(nil, store, store, fakeMessages{store}, fakeUsers{store}, f.cache, f.bus, f.emitter, f.presence, Timeouts{})
	f.svc.now = newStepClock().Now
	return f
}

func strPtr(s string) *string { return &s }

func (f *messagingFixture) post(t *testing.T, sender, text string) domain.Message {
	t.Helper()
	msg, err := f.svc.PostMessage(context.Background(), PostMessageInput{
		ConversationID: "c1",
		SenderID:       sender,
		CompanyID:      "co1",
		Content:        strPtr(text),
	})
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	return msg
}

func TestMessagingService_NonMemberDenied(t *testing.T) {
	f := newMessagingFixture()
	ctx := context.Background()

	_, err := f.svc.PostMessage(ctx, PostMessageInput{ConversationID: "c1", SenderID: "x", CompanyID: "co1", Content: strPtr("hola")})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied on post, got %v", err)
	}
	if _, err := f.svc.GetMessages(ctx, "c1", "x", "co1", 0); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied on get, got %v", err)
	}
	// miembro pero con otro tenant en la identidad
	if _, err := f.svc.GetMessages(ctx, "c1", "a", "co2", 0); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied on tenant mismatch, got %v", err)
	}
	if f.bus.count(events.ChannelNewMessage) != 0 {
		t.Fatalf("expected no events for denied posts")
	}
}

func TestMessagingService_UnknownConversation(t *testing.T) {
	f := newMessagingFixture()
	if _, err := f.svc.GetMessages(context.Background(), "missing", "a", "co1", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err := f.svc.PostMessage(context.Background(), PostMessageInput{ConversationID: "missing", SenderID: "a", CompanyID: "co1", Content: strPtr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessagingService_PostValidation(t *testing.T) {
	f := newMessagingFixture()
	cases := []PostMessageInput{
		{ConversationID: "c1", SenderID: "a", CompanyID: "co1"},
		{ConversationID: "c1", SenderID: "a", CompanyID: "co1", Content: strPtr("   ")},
		{ConversationID: "c1", SenderID: "a", CompanyID: "co1", Content: strPtr("hola"), Type: "sticker"},
	}
	for i, in := range cases {
		if _, err := f.svc.PostMessage(context.Background(), in); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected ErrValidation, got %v", i, err)
		}
	}
}

func TestMessagingService_PostDefaultsFileType(t *testing.T) {
	f := newMessagingFixture()
	msg, err := f.svc.PostMessage(context.Background(), PostMessageInput{
		ConversationID: "c1",
		SenderID:       "a",
		CompanyID:      "co1",
		FileURL:        strPtr(" https://files.example.com/a.pdf "),
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if msg.Type != domain.MessageTypeFile {
		t.Fatalf("expected file type, got %q", msg.Type)
	}
	if msg.FileURL == nil || *msg.FileURL != "https://files.example.com/a.pdf" {
		t.Fatalf("expected trimmed file url, got %v", msg.FileURL)
	}
	if msg.Content != nil {
		t.Fatalf("expected nil content")
	}
}

func TestMessagingService_PostThenGetReturnsNewestLast(t *testing.T) {
	f := newMessagingFixture()
	f.post(t, "a", "primero")
	f.post(t, "b", "segundo")
	last := f.post(t, "a", "hi")

	if last.Status != domain.MessageStatusSent {
		t.Fatalf("expected status sent, got %q", last.Status)
	}

	msgs, err := f.svc.GetMessages(context.Background(), "c1", "b", "co1", 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[len(msgs)-1].ID != last.ID {
		t.Fatalf("expected newest message last, got %+v", msgs[len(msgs)-1])
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("messages not ascending at %d", i)
		}
	}

	page, err := f.svc.GetMessages(context.Background(), "c1", "b", "co1", 2)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page) != 2 || page[1].ID != last.ID {
		t.Fatalf("expected the latest two messages, got %+v", page)
	}
}

func TestMessagingService_PostInvalidatesCaches(t *testing.T) {
	f := newMessagingFixture()
	ctx := context.Background()
	for _, key := range []string{
		cache.MessagePageKey("c1", 50),
		cache.MessagePageKey("c1", 10),
		cache.MessagePageKey("c10", 50),
		cache.ConversationListKey("a"),
		cache.ConversationListKey("b"),
		cache.UnreadCountKey("b", "c1"),
		cache.ConversationListKey("x"),
	} {
		_ = f.cache.Set(ctx, key, []byte(`[]`), 0)
	}

	f.post(t, "a", "hi")

	for _, gone := range []string{
		cache.MessagePageKey("c1", 50),
		cache.MessagePageKey("c1", 10),
		cache.ConversationListKey("a"),
		cache.ConversationListKey("b"),
		cache.UnreadCountKey("b", "c1"),
	} {
		if f.cache.has(gone) {
			t.Fatalf("expected %s invalidated", gone)
		}
	}
	for _, kept := range []string{cache.MessagePageKey("c10", 50), cache.ConversationListKey("x")} {
		if !f.cache.has(kept) {
			t.Fatalf("expected %s untouched", kept)
		}
	}
}

func TestMessagingService_PublishesOneEventWithPresenceSnapshot(t *testing.T) {
	f := newMessagingFixture()
	f.presence.online["b"] = true

	msg := f.post(t, "a", "hi")

	if len(f.bus.published) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(f.bus.published))
	}
	pub := f.bus.published[0]
	if pub.channel != events.ChannelNewMessage {
		t.Fatalf("unexpected channel %q", pub.channel)
	}
	ev, err := events.Decode(pub.payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	created := ev.(events.MessageCreated)
	if created.Message.ID != msg.ID || created.RecipientID != "b" || created.RecipientStatus != events.RecipientOnline {
		t.Fatalf("unexpected event %+v", created)
	}
	if created.CompanyID != "co1" || len(created.MemberIDs) != 2 {
		t.Fatalf("unexpected routing data %+v", created)
	}
}

func TestMessagingService_PublishFailureIsSwallowed(t *testing.T) {
	f := newMessagingFixture()
	f.bus.err = errors.New("bus down")

	msg := f.post(t, "a", "hi")

	msgs, err := f.svc.GetMessages(context.Background(), "c1", "a", "co1", 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("expected committed message despite publish failure, got %+v", msgs)
	}
}

func TestMessagingService_PostBroadcasts(t *testing.T) {
	f := newMessagingFixture()
	f.post(t, "a", "hi")

	if got := f.emitter.find(realtime.ConversationRoom("c1"), realtime.EventMessageNew); len(got) != 1 {
		t.Fatalf("expected one message:new on conversation room, got %d", len(got))
	}
	for _, member := range []string{"a", "b"} {
		if got := f.emitter.find(realtime.UserRoom(member), realtime.EventConversationUpdated); len(got) != 1 {
			t.Fatalf("expected conversation:updated for %s, got %d", member, len(got))
		}
	}
}

func TestMessagingService_GetMessagesLimit(t *testing.T) {
	f := newMessagingFixture()
	cases := []struct {
		limit   int
		wantErr bool
	}{
		{limit: 0},
		{limit: 1},
		{limit: 100},
		{limit: -1, wantErr: true},
		{limit: 101, wantErr: true},
	}
	for _, tc := range cases {
		_, err := f.svc.GetMessages(context.Background(), "c1", "a", "co1", tc.limit)
		if tc.wantErr && !errors.Is(err, ErrValidation) {
			t.Fatalf("limit %d expected ErrValidation, got %v", tc.limit, err)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("limit %d unexpected error %v", tc.limit, err)
		}
	}
}

func TestMessagingService_GetMessagesChecksMembershipBeforeCache(t *testing.T) {
	f := newMessagingFixture()
	ctx := context.Background()
	f.post(t, "a", "hi")
	if _, err := f.svc.GetMessages(ctx, "c1", "a", "co1", 0); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if !f.cache.has(cache.MessagePageKey("c1", DefaultMessageLimit)) {
		t.Fatalf("expected page cached")
	}
	if _, err := f.svc.GetMessages(ctx, "c1", "x", "co1", 0); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected cached page to stay private, got %v", err)
	}
}

func TestMessagingService_CacheReadFailureFallsBackToStore(t *testing.T) {
	f := newMessagingFixture()
	f.post(t, "a", "hi")
	f.cache.getErr = errors.New("redis timeout")

	msgs, err := f.svc.GetMessages(context.Background(), "c1", "b", "co1", 0)
	if err != nil {
		t.Fatalf("expected store fallback, got %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestMessagingService_MarkReadZeroesUnread(t *testing.T) {
	f := newMessagingFixture()
	ctx := context.Background()
	f.post(t, "a", "uno")
	f.post(t, "a", "dos")
	own := f.post(t, "b", "propio")
	latest := f.post(t, "a", "tres")

	count, err := f.svc.UnreadCount(ctx, "c1", "b", "co1")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 unread, got %d", count)
	}

	if err := f.svc.MarkRead(ctx, "c1", "b", "co1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	count, err = f.svc.UnreadCount(ctx, "c1", "b", "co1")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 unread after mark read, got %d", count)
	}

	lastRead := f.store.lastReadAt("c1", "b")
	if lastRead == nil || lastRead.Before(latest.CreatedAt) {
		t.Fatalf("expected lastReadAt >= %v, got %v", latest.CreatedAt, lastRead)
	}

	msgs, err := f.svc.GetMessages(ctx, "c1", "b", "co1", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, m := range msgs {
		switch {
		case m.ID == own.ID && m.Status != domain.MessageStatusSent:
			t.Fatalf("own message must keep status sent, got %q", m.Status)
		case m.ID != own.ID && (m.Status != domain.MessageStatusRead || m.ReadAt == nil):
			t.Fatalf("expected %s read with readAt, got %+v", m.ID, m)
		}
	}

	if got := f.emitter.find(realtime.UserRoom("b"), realtime.EventConversationUpdated); len(got) == 0 {
		t.Fatalf("expected conversation:updated on reader room")
	}
}

func TestMessagingService_MarkReadNonMember(t *testing.T) {
	f := newMessagingFixture()
	if err := f.svc.MarkRead(context.Background(), "c1", "x", "co1"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestMessagingService_CreateConversation(t *testing.T) {
	f := newMessagingFixture()
	ctx := context.Background()

	conv, err := f.svc.CreateConversation(ctx, "co1", "a", []string{"x", "x", " a "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(conv.MemberIDs) != 2 || conv.MemberIDs[0] != "a" || conv.MemberIDs[1] != "x" {
		t.Fatalf("expected deduped members [a x], got %v", conv.MemberIDs)
	}
	if got := f.emitter.find(realtime.UserRoom("x"), realtime.EventConversationUpdated); len(got) != 1 {
		t.Fatalf("expected member notified of new conversation")
	}

	if _, err := f.svc.CreateConversation(ctx, "co1", "a", []string{"a"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for single member, got %v", err)
	}
	if _, err := f.svc.CreateConversation(ctx, "co1", "a", []string{"z"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for foreign tenant member, got %v", err)
	}
}

func TestMessagingService_ListConversationsCachesAndInvalidates(t *testing.T) {
	f := newMessagingFixture()
	ctx := context.Background()

	list, err := f.svc.ListConversations(ctx, "b", "co1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].UnreadCount != 0 {
		t.Fatalf("unexpected list %+v", list)
	}
	if !f.cache.has(cache.ConversationListKey("b")) {
		t.Fatalf("expected list cached")
	}

	f.post(t, "a", "hi")

	list, err = f.svc.ListConversations(ctx, "b", "co1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list[0].UnreadCount != 1 {
		t.Fatalf("expected fresh unread count 1 after post, got %d", list[0].UnreadCount)
	}
}

func TestMessagingService_ListDirectTargets(t *testing.T) {
	f := newMessagingFixture()
	users, err := f.svc.ListDirectTargets(context.Background(), "a", "co1")
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(users))
	}
	for _, u := range users {
		if u.ID == "a" || u.CompanyID != "co1" {
			t.Fatalf("unexpected target %+v", u)
		}
	}
	if !f.cache.has(cache.DirectTargetsKey("co1", "a")) {
		t.Fatalf("expected targets cached")
	}
}

func TestMessagingService_NotConfigured(t *testing.T) {
	var svc *MessagingService
	if _, err := svc.GetMessages(context.Background(), "c1", "a", "co1", 0); !errors.Is(err, ErrMessagingNotConfigured) {
		t.Fatalf("expected ErrMessagingNotConfigured, got %v", err)
	}
}

func TestMessagingService_MarkReadIgnoresInstanceClockSkew(t *testing.T) {
	f := newMessagingFixture()
	ctx := context.Background()

	// la instancia que publica corre una hora adelantada respecto de la que marca leído
	ahead := NewMessagingService(nil, f.store, f.store, fakeMessages{f.store}, fakeUsers{f.store}, f.cache, f.bus, f.emitter, f.presence, Timeouts{})
	ahead.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	behind := NewMessagingService(nil, f.store, f.store, fakeMessages{f.store}, fakeUsers{f.store}, f.cache, f.bus, f.emitter, f.presence, Timeouts{})
	behind.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }

	if _, err := ahead.PostMessage(ctx, PostMessageInput{ConversationID: "c1", SenderID: "a", CompanyID: "co1", Content: strPtr("hola")}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := behind.MarkRead(ctx, "c1", "b", "co1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	count, err := behind.UnreadCount(ctx, "c1", "b", "co1")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 unread regardless of instance clocks, got %d", count)
	}
}

// stallingBus simula un bus colgado: Publish bloquea hasta que vence el contexto.
type stallingBus struct {
	mu    sync.Mutex
	calls int
}

func (b *stallingBus) Publish(ctx context.Context, _ string, _ []byte) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (b *stallingBus) Subscribe(context.Context, string, bus.Handler) (bus.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *stallingBus) Close() error { return nil }

func TestMessagingService_StalledBusSharesOneDeadline(t *testing.T) {
	store := newFakeStore()
	store.addUser("a", "co1", "Ana")
	store.addUser("b", "co1", "Bruno")
	store.addUser("c", "co1", "Carla")
	store.addConversation("g1", "co1", "a", "b", "c")

	stalled := &stallingBus{}
	emitter := realtime.NewBroadcaster(nil, stalled, "node-a", time.Second)
	svc := NewMessagingService(nil, store, store, fakeMessages{store}, fakeUsers{store}, newMemCache(), stalled, emitter, newFakePresence(), Timeouts{Publish: 50 * time.Millisecond})

	start := time.Now()
	msg, err := svc.PostMessage(context.Background(), PostMessageInput{ConversationID: "g1", SenderID: "a", CompanyID: "co1", Content: strPtr("hola")})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("post must succeed with a stalled bus: %v", err)
	}
	if msg.ID == "" {
		t.Fatalf("expected persisted message")
	}
	// evento + sala de la conversación + una sala por miembro
	if stalled.calls != 5 {
		t.Fatalf("expected 5 publish attempts, got %d", stalled.calls)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("expected emits bounded by one publish deadline, took %v", elapsed)
	}

	start = time.Now()
	if err := svc.MarkRead(context.Background(), "g1", "b", "co1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected mark read emits bounded by one publish deadline, took %v", elapsed)
	}
}
