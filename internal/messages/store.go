// Package messages implements the user/director/subagent message store with
// independent read flags per reader class.
package messages

import (
	"sort"
	"sync"
	"time"

	"fable/internal/errors"
	"fable/internal/ids"
	"fable/internal/logging"
	"fable/internal/taskstack"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser     SenderType = "user"
	SenderDirector SenderType = "director"
	SenderSubagent SenderType = "subagent"
)

// Valid reports whether s is a known sender type.
func (s SenderType) Valid() bool {
	switch s {
	case SenderUser, SenderDirector, SenderSubagent:
		return true
	default:
		return false
	}
}

// ReadStatus marks whether one reader class has seen a message.
type ReadStatus string

const (
	StatusUnread ReadStatus = "unread"
	StatusRead   ReadStatus = "read"
)

// UserMessage is one entry in the conversation log. The director and the user
// track their own read state independently.
type UserMessage struct {
	ID                 string     `json:"id"`
	Content            string     `json:"content"`
	Timestamp          time.Time  `json:"timestamp"`
	SenderType         SenderType `json:"sender_type"`
	DirectorReadStatus ReadStatus `json:"director_read_status"`
	UserReadStatus     ReadStatus `json:"user_read_status"`
	TaskID             string     `json:"task_id,omitempty"`
}

func (m *UserMessage) clone() *UserMessage {
	cp := *m
	return &cp
}

// TaskLookup resolves task ids for IsNewTask checks.
type TaskLookup interface {
	GetTask(id string) (*taskstack.Task, error)
}

// Store holds all messages under a single mutex.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*UserMessage
	counter uint64
	tasks   TaskLookup
	logger  logging.Logger
}

// NewStore creates an empty message store. tasks may be nil when IsNewTask is
// never consulted (tests).
func NewStore(tasks TaskLookup, logger logging.Logger) *Store {
	return &Store{
		byID:   make(map[string]*UserMessage),
		tasks:  tasks,
		logger: logging.OrNop(logger),
	}
}

// CreateUserMessage appends a new message with both read flags UNREAD.
func (s *Store) CreateUserMessage(content string, senderType SenderType, taskID string) (*UserMessage, error) {
	if content == "" {
		return nil, errors.Validation("message content is required")
	}
	if !senderType.Valid() {
		return nil, errors.Validation("unknown sender type: %s", senderType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	msg := &UserMessage{
		ID:                 ids.New("msg", s.counter),
		Content:            content,
		Timestamp:          time.Now(),
		SenderType:         senderType,
		DirectorReadStatus: StatusUnread,
		UserReadStatus:     StatusUnread,
		TaskID:             taskID,
	}
	s.byID[msg.ID] = msg
	return msg.clone(), nil
}

// Get retrieves a message by id.
func (s *Store) Get(id string) (*UserMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("message", id)
	}
	return msg.clone(), nil
}

// List returns all messages, oldest first.
func (s *Store) List() []*UserMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*UserMessage, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// UpdateReadStatus sets the director and user flags independently; a nil flag
// leaves the current value untouched.
func (s *Store) UpdateReadStatus(id string, director, user *ReadStatus) (*UserMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("message", id)
	}
	if director != nil {
		if *director != StatusRead && *director != StatusUnread {
			return nil, errors.Validation("unknown read status: %s", *director)
		}
		msg.DirectorReadStatus = *director
	}
	if user != nil {
		if *user != StatusRead && *user != StatusUnread {
			return nil, errors.Validation("unknown read status: %s", *user)
		}
		msg.UserReadStatus = *user
	}
	return msg.clone(), nil
}

// ListUnread returns messages where at least one selected flag is UNREAD,
// optionally filtered by sender. When neither flag is selected the check
// defaults to the director flag only.
func (s *Store) ListUnread(senderType *SenderType, checkDirector, checkUser bool) []*UserMessage {
	if !checkDirector && !checkUser {
		checkDirector = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*UserMessage, 0)
	for _, m := range s.byID {
		if senderType != nil && m.SenderType != *senderType {
			continue
		}
		unread := (checkDirector && m.DirectorReadStatus == StatusUnread) ||
			(checkUser && m.UserReadStatus == StatusUnread)
		if unread {
			out = append(out, m.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// IsNewTask reports whether the message references a task currently PENDING.
func (s *Store) IsNewTask(id string) (bool, error) {
	msg, err := s.Get(id)
	if err != nil {
		return false, err
	}
	if msg.TaskID == "" || s.tasks == nil {
		return false, nil
	}
	task, err := s.tasks.GetTask(msg.TaskID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return task.Status == taskstack.StatusPending, nil
}
