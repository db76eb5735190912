package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
)

// UserRepo はメモリ上のユーザー・identityリポジトリ。
// ユーザー削除時はPostgres版のCASCADEに合わせてidentityも削除する。
type UserRepo struct {
	mu         sync.RWMutex
	users      map[string]*model.User
	identities map[string]*model.Identity // provider + "\x00" + provider_user_id
}

// NewUserRepo はUserRepoを生成する。
func NewUserRepo() *UserRepo {
	return &UserRepo{
		users:      make(map[string]*model.User),
		identities: make(map[string]*model.Identity),
	}
}

func identityKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

// FindByEmail は指定メールアドレスのユーザーを取得する。
func (r *UserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[email]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

// FindByUsername は指定ユーザー名のユーザーを取得する。
func (r *UserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

// Create はユーザーを作成する。
func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(user)
}

// CreateWithIdentity はユーザーとidentityをまとめて作成する。
func (r *UserRepo) CreateWithIdentity(_ context.Context, user *model.User, identity *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey(identity.Provider, identity.ProviderUserID)
	if _, ok := r.identities[key]; ok {
		return fmt.Errorf("identity %s: %w", key, repository.ErrDuplicate)
	}
	if err := r.insertLocked(user); err != nil {
		return err
	}
	c := *identity
	r.identities[key] = &c
	return nil
}

func (r *UserRepo) insertLocked(user *model.User) error {
	if _, ok := r.users[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	for _, u := range r.users {
		if u.Username == user.Username {
			return repository.ErrDuplicateUsername
		}
	}
	r.users[user.Email] = cloneUser(user)
	return nil
}

// UpdateProfile はユーザー名とパスワードハッシュを更新する。
func (r *UserRepo) UpdateProfile(_ context.Context, email, username, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok {
		return fmt.Errorf("user %s: %w", email, repository.ErrNotFound)
	}
	for _, other := range r.users {
		if other.Email != email && other.Username == username {
			return repository.ErrDuplicateUsername
		}
	}
	u.Username = username
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *UserRepo) UpdateLastLogin(_ context.Context, email string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok {
		return fmt.Errorf("user %s: %w", email, repository.ErrNotFound)
	}
	u.LastLogin = &at
	return nil
}

// UpdateProfileImage はプロフィール画像を更新する。
func (r *UserRepo) UpdateProfileImage(_ context.Context, email string, data []byte, mime string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok {
		return fmt.Errorf("user %s: %w", email, repository.ErrNotFound)
	}
	u.ProfileImage = slices.Clone(data)
	u.ProfileImageMime = mime
	u.UpdatedAt = time.Now()
	return nil
}

// DeleteByEmail は指定ユーザーと紐付くidentityを削除する。
func (r *UserRepo) DeleteByEmail(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[email]; !ok {
		return fmt.Errorf("user %s: %w", email, repository.ErrNotFound)
	}
	delete(r.users, email)
	for key, id := range r.identities {
		if id.UserEmail == email {
			delete(r.identities, key)
		}
	}
	return nil
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
func (r *UserRepo) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.identities[identityKey(provider, providerUserID)]
	if !ok {
		return nil, nil
	}
	c := *id
	return &c, nil
}

// createIdentity は既存ユーザーにidentityを紐付ける。
// UserRepo.CreateとシグネチャがぶつかるためIdentityRepo経由で公開する。
func (r *UserRepo) createIdentity(identity *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[identity.UserEmail]; !ok {
		return fmt.Errorf("user %s: %w", identity.UserEmail, repository.ErrNotFound)
	}
	key := identityKey(identity.Provider, identity.ProviderUserID)
	if _, ok := r.identities[key]; ok {
		return fmt.Errorf("identity %s: %w", key, repository.ErrDuplicate)
	}
	c := *identity
	r.identities[key] = &c
	return nil
}

// Identities はこのUserRepoと同じデータを共有するIdentityRepositoryを返す。
func (r *UserRepo) Identities() *IdentityRepo {
	return &IdentityRepo{users: r}
}

// IdentityRepo はUserRepoのidentityデータに対するIdentityRepository実装。
type IdentityRepo struct {
	users *UserRepo
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
func (r *IdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	return r.users.FindByProviderAndProviderUserID(ctx, provider, providerUserID)
}

// Create は既存ユーザーにidentityを紐付ける。
func (r *IdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	return r.users.createIdentity(identity)
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.ProfileImage = slices.Clone(u.ProfileImage)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

var (
	_ repository.UserRepository     = (*UserRepo)(nil)
	_ repository.IdentityRepository = (*IdentityRepo)(nil)
)
