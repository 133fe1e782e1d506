package models

// NotificationFeed is the client-side view of a user's notifications, newest first.
// It is not safe for concurrent use; the owning session serialises access.
type NotificationFeed struct {
	items      []Notification
	unread     int
	pagination Pagination
}

// NewNotificationFeed returns an empty feed.
func NewNotificationFeed() *NotificationFeed {
	return &NotificationFeed{items: make([]Notification, 0)}
}

// Replace swaps the loaded items for a freshly fetched first page.
// The server's unread total wins unless more unread items are loaded locally.
func (f *NotificationFeed) Replace(page NotificationPage) {
	f.items = append(make([]Notification, 0, len(page.Notifications)), page.Notifications...)
	f.pagination = page.Pagination
	f.unread = maxInt(page.Pagination.UnreadCount, f.countUnread())
}

// Append adds a later page, skipping items already loaded.
func (f *NotificationFeed) Append(page NotificationPage) {
	seen := make(map[string]struct{}, len(f.items))
	for _, item := range f.items {
		seen[item.ID] = struct{}{}
	}
	for _, item := range page.Notifications {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		f.items = append(f.items, item)
	}
	f.pagination = page.Pagination
	f.unread = maxInt(page.Pagination.UnreadCount, f.countUnread())
}

// Prepend inserts a pushed notification at the head as unread.
func (f *NotificationFeed) Prepend(notification Notification) {
	notification.IsRead = false
	f.items = append([]Notification{notification}, f.items...)
	f.unread++
	f.pagination.Total++
}

// MarkRead flips a single unread item. It reports whether anything changed.
func (f *NotificationFeed) MarkRead(id string) bool {
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		if f.items[i].IsRead {
			return false
		}
		f.items[i].IsRead = true
		f.unread = maxInt(0, f.unread-1)
		return true
	}
	return false
}

// MarkAllRead flips every loaded item and zeroes the unread count.
func (f *NotificationFeed) MarkAllRead() int {
	flipped := 0
	for i := range f.items {
		if !f.items[i].IsRead {
			f.items[i].IsRead = true
			flipped++
		}
	}
	f.unread = 0
	return flipped
}

// Remove deletes an item; the unread count only moves when the item was unread.
func (f *NotificationFeed) Remove(id string) (Notification, bool) {
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		removed := f.items[i]
		f.items = append(f.items[:i:i], f.items[i+1:]...)
		if !removed.IsRead {
			f.unread = maxInt(0, f.unread-1)
		}
		f.pagination.Total = maxInt(0, f.pagination.Total-1)
		return removed, true
	}
	return Notification{}, false
}

// Find returns the loaded item with the given id.
func (f *NotificationFeed) Find(id string) (Notification, bool) {
	for _, item := range f.items {
		if item.ID == id {
			return item, true
		}
	}
	return Notification{}, false
}

// Items returns a copy of the loaded notifications.
func (f *NotificationFeed) Items() []Notification {
	return append(make([]Notification, 0, len(f.items)), f.items...)
}

// Len reports how many notifications are loaded.
func (f *NotificationFeed) Len() int {
	return len(f.items)
}

// UnreadCount reports the current unread badge value.
func (f *NotificationFeed) UnreadCount() int {
	return f.unread
}

// Pagination returns the last known pagination block with the live unread count.
func (f *NotificationFeed) Pagination() Pagination {
	p := f.pagination
	p.UnreadCount = f.unread
	return p
}

func (f *NotificationFeed) countUnread() int {
	count := 0
	for _, item := range f.items {
		if !item.IsRead {
			count++
		}
	}
	return count
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
