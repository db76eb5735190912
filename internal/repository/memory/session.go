package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
)

// SessionRepo はメモリ上のセッションリポジトリ。
type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewSessionRepo はSessionRepoを生成する。
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[string]model.Session), now: time.Now}
}

// Create はセッションを作成する。
func (r *SessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *SessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *SessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// DeleteByUserEmail は指定ユーザーの全セッションを削除する。
func (r *SessionRepo) DeleteByUserEmail(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserEmail == email {
			delete(r.sessions, id)
		}
	}
	return nil
}

// DeleteExpired はbefore時点で期限切れのセッションを削除する。
func (r *SessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

var _ repository.SessionRepository = (*SessionRepo)(nil)
