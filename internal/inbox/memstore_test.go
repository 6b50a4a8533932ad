package inbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/mentionbox/internal/model"
	"github.com/hitoshi/mentionbox/internal/repository"
)

// memStore はリポジトリの条件付き更新と同じ意味論を持つインメモリ実装。
// 各操作はmuの下で不可分に行われ、データベースの行ロックの代わりとなる。
type memStore struct {
	mu     sync.Mutex
	seq    int
	users  map[string]*model.User
	items  map[string]*model.InboxItem
	tasks  map[string]*model.Task
	failOn map[string]error

	// beforeConditionalUpdate は条件付き更新の直前に（ロック外で）呼ばれる。競合の再現に使う。
	beforeConditionalUpdate func(itemID string)
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]*model.User{},
		items:  map[string]*model.InboxItem{},
		tasks:  map[string]*model.Task{},
		failOn: map[string]error{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%04d", prefix, m.seq)
}

func (m *memStore) hook(itemID string) {
	if m.beforeConditionalUpdate != nil {
		m.beforeConditionalUpdate(itemID)
	}
}

func copyItem(item *model.InboxItem) *model.InboxItem {
	c := *item
	return &c
}

// --- UserRepository ---

func (m *memStore) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) EnsureExists(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["EnsureExists"]; err != nil {
		return err
	}
	if _, ok := m.users[user.ID]; !ok {
		c := *user
		m.users[user.ID] = &c
	}
	return nil
}

// --- InboxItemRepository ---

func (m *memStore) InsertIfAbsent(_ context.Context, item *model.InboxItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["InsertIfAbsent"]; err != nil {
		return false, err
	}
	for _, existing := range m.items {
		if existing.ChannelID == item.ChannelID && existing.SlackTs == item.SlackTs && existing.UserID == item.UserID {
			return false, nil
		}
	}
	if item.ID == "" {
		item.ID = m.nextID("item")
	}
	m.items[item.ID] = copyItem(item)
	return true, nil
}

func (m *memStore) FindByIDForUser(_ context.Context, id, userID string) (*model.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.UserID != userID {
		return nil, nil
	}
	return copyItem(item), nil
}

func (m *memStore) MarkReadIfPending(_ context.Context, id, userID string, now time.Time) (*model.InboxItem, error) {
	m.hook(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.UserID != userID || item.Status != model.InboxStatusPending {
		return nil, nil
	}
	item.Status = model.InboxStatusRead
	item.UpdatedAt = now
	return copyItem(item), nil
}

func (m *memStore) RecordReply(_ context.Context, id, userID string, now time.Time) (*model.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.UserID != userID {
		return nil, nil
	}
	item.HasReplied = true
	item.ReplyCount++
	item.UpdatedAt = now
	return copyItem(item), nil
}

func (m *memStore) ListRecentPending(_ context.Context, userID string, since, now time.Time) ([]*model.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.InboxItem
	for _, item := range m.items {
		if item.UserID == userID && item.Status == model.InboxStatusPending &&
			!item.CreatedAt.Before(since) && item.ExpiresAt.After(now) {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) DeleteExpiredPending(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, item := range m.items {
		if len(ids) >= limit {
			break
		}
		if item.Status == model.InboxStatusPending && !item.ExpiresAt.After(now) {
			ids = append(ids, id)
			delete(m.items, id)
		}
	}
	return ids, nil
}

// --- TaskRepository ---

func (m *memStore) Create(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.ID == "" {
		task.ID = m.nextID("task")
	}
	c := *task
	m.tasks[task.ID] = &c
	return nil
}

func (m *memStore) ListTodoByUser(_ context.Context, userID string) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Task
	for _, task := range m.tasks {
		if task.UserID == userID && task.Status == model.TaskStatusTodo {
			c := *task
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) ConvertFromInboxItem(_ context.Context, itemID, userID string, task *model.Task, now time.Time) (bool, error) {
	m.hook(itemID)
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok || item.UserID != userID || item.Status != model.InboxStatusPending {
		return false, nil
	}
	item.Status = model.InboxStatusTaskCreated
	item.IsTaskCreated = true
	item.UpdatedAt = now

	if task.ID == "" {
		task.ID = m.nextID("task")
	}
	task.SourceInboxItemID = itemID
	c := *task
	m.tasks[task.ID] = &c
	return true, nil
}

func (m *memStore) itemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *memStore) rawItem(id string) *model.InboxItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		return copyItem(item)
	}
	return nil
}

var (
	_ repository.UserRepository      = (*memStore)(nil)
	_ repository.InboxItemRepository = (*memStore)(nil)
	_ repository.TaskRepository      = (*memStore)(nil)
)
