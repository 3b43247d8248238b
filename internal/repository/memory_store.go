package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go-storefront/internal/model"
)

// MemoryStore keeps users, roles, refresh tokens and session audits in
// process memory. It backs STORE_DRIVER=memory and the service tests.
// Transactions run one at a time and restore a snapshot when they fail.
type MemoryStore struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	state  memoryState
	faults map[string]error
}

type memoryState struct {
	users     map[string]model.User
	roles     map[string]struct{}
	userRoles map[string][]string
	tokens    []model.RefreshToken
	audits    []model.SessionAudit
}

func NewMemoryStore(roles ...string) *MemoryStore {
	if len(roles) == 0 {
		roles = []string{model.RoleAdmin, model.RoleSeller, model.RoleBuyer}
	}

	state := memoryState{
		users:     map[string]model.User{},
		roles:     map[string]struct{}{},
		userRoles: map[string][]string{},
	}
	for _, role := range roles {
		state.roles[role] = struct{}{}
	}

	return &MemoryStore{state: state, faults: map[string]error{}}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		users:     make(map[string]model.User, len(s.users)),
		roles:     make(map[string]struct{}, len(s.roles)),
		userRoles: make(map[string][]string, len(s.userRoles)),
		tokens:    make([]model.RefreshToken, len(s.tokens)),
		audits:    make([]model.SessionAudit, len(s.audits)),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k := range s.roles {
		out.roles[k] = struct{}{}
	}
	for k, v := range s.userRoles {
		out.userRoles[k] = append([]string(nil), v...)
	}
	for i, t := range s.tokens {
		t.RevokedAt = copyTime(t.RevokedAt)
		out.tokens[i] = t
	}
	for i, a := range s.audits {
		a.LogoutTime = copyTime(a.LogoutTime)
		out.audits[i] = a
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// InTx serialises transactions and rolls state back when fn fails.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

type memoryTxKey struct{}

// FailOn makes the next call of op (for example "Tokens.Store") return err.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

// fault must be called with mu held.
func (m *MemoryStore) fault(op string) error {
	err, ok := m.faults[op]
	if !ok {
		return nil
	}
	delete(m.faults, op)
	return err
}

func (m *MemoryStore) Users() *MemoryUsers   { return &MemoryUsers{m: m} }
func (m *MemoryStore) Roles() *MemoryRoles   { return &MemoryRoles{m: m} }
func (m *MemoryStore) Tokens() *MemoryTokens { return &MemoryTokens{m: m} }
func (m *MemoryStore) Audits() *MemoryAudits { return &MemoryAudits{m: m} }

type MemoryUsers struct{ m *MemoryStore }

func (u *MemoryUsers) FindByID(_ context.Context, id string) (model.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	if err := u.m.fault("Users.FindByID"); err != nil {
		return model.User{}, err
	}
	user, ok := u.m.state.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return user, nil
}

func (u *MemoryUsers) FindByUsername(_ context.Context, username string) (model.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	if err := u.m.fault("Users.FindByUsername"); err != nil {
		return model.User{}, err
	}
	username = strings.TrimSpace(username)
	for _, user := range u.m.state.users {
		if user.Username == username {
			return user, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (u *MemoryUsers) FindByRefreshToken(_ context.Context, token string) (model.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	for _, t := range u.m.state.tokens {
		if t.Token == token {
			if user, ok := u.m.state.users[t.UserID]; ok {
				return user, nil
			}
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (u *MemoryUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := u.FindByUsername(ctx, username)
	if errors.Is(err, model.ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (u *MemoryUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	for _, user := range u.m.state.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			return true, nil
		}
	}
	return false, nil
}

func (u *MemoryUsers) Create(_ context.Context, user model.User) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	if err := u.m.fault("Users.Create"); err != nil {
		return err
	}
	for _, existing := range u.m.state.users {
		if existing.Username == user.Username {
			return model.ErrUsernameTaken
		}
		if strings.EqualFold(existing.Email, user.Email) {
			return model.ErrEmailTaken
		}
	}
	u.m.state.users[user.ID] = user
	return nil
}

// LockForUpdate only checks existence; InTx already serialises writers.
func (u *MemoryUsers) LockForUpdate(ctx context.Context, id string) error {
	_, err := u.FindByID(ctx, id)
	return err
}

func (u *MemoryUsers) Delete(ctx context.Context, id string) error {
	return u.m.InTx(ctx, func(context.Context) error {
		u.m.mu.Lock()
		defer u.m.mu.Unlock()

		if _, ok := u.m.state.users[id]; !ok {
			return model.ErrUserNotFound
		}
		delete(u.m.state.users, id)
		delete(u.m.state.userRoles, id)

		tokens := u.m.state.tokens[:0]
		for _, t := range u.m.state.tokens {
			if t.UserID != id {
				tokens = append(tokens, t)
			}
		}
		u.m.state.tokens = tokens

		audits := u.m.state.audits[:0]
		for _, a := range u.m.state.audits {
			if a.UserID != id {
				audits = append(audits, a)
			}
		}
		u.m.state.audits = audits
		return nil
	})
}

type MemoryRoles struct{ m *MemoryStore }

func (r *MemoryRoles) RolesForUser(_ context.Context, userID string) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if err := r.m.fault("Roles.RolesForUser"); err != nil {
		return nil, err
	}
	roles := append([]string{}, r.m.state.userRoles[userID]...)
	sort.Strings(roles)
	return roles, nil
}

func (r *MemoryRoles) Assign(_ context.Context, userID string, roleNames ...string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if err := r.m.fault("Roles.Assign"); err != nil {
		return err
	}
	for _, name := range roleNames {
		if _, ok := r.m.state.roles[name]; !ok {
			return model.ErrUnknownRole
		}
	}

	assigned := r.m.state.userRoles[userID]
	for _, name := range roleNames {
		found := false
		for _, existing := range assigned {
			if existing == name {
				found = true
				break
			}
		}
		if !found {
			assigned = append(assigned, name)
		}
	}
	r.m.state.userRoles[userID] = assigned
	return nil
}

// Revoke removes every role of userID. Tests use it to model users whose
// roles were withdrawn.
func (r *MemoryRoles) Revoke(userID string) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.state.userRoles, userID)
}

type MemoryTokens struct{ m *MemoryStore }

func (t *MemoryTokens) Store(_ context.Context, token model.RefreshToken) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if err := t.m.fault("Tokens.Store"); err != nil {
		return err
	}
	t.m.state.tokens = append(t.m.state.tokens, token)
	return nil
}

func (t *MemoryTokens) FindByToken(_ context.Context, token string) (model.RefreshToken, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if err := t.m.fault("Tokens.FindByToken"); err != nil {
		return model.RefreshToken{}, err
	}
	for _, stored := range t.m.state.tokens {
		if stored.Token == token {
			stored.RevokedAt = copyTime(stored.RevokedAt)
			return stored, nil
		}
	}
	return model.RefreshToken{}, model.ErrTokenNotFound
}

func (t *MemoryTokens) Revoke(_ context.Context, id string, at time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if err := t.m.fault("Tokens.Revoke"); err != nil {
		return err
	}
	for i := range t.m.state.tokens {
		if t.m.state.tokens[i].ID == id && t.m.state.tokens[i].RevokedAt == nil {
			t.m.state.tokens[i].RevokedAt = copyTime(&at)
			return nil
		}
	}
	return model.ErrTokenRevoked
}

func (t *MemoryTokens) RevokeAllActive(_ context.Context, userID string, at time.Time) (int64, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if err := t.m.fault("Tokens.RevokeAllActive"); err != nil {
		return 0, err
	}
	var revoked int64
	for i := range t.m.state.tokens {
		token := &t.m.state.tokens[i]
		if token.UserID == userID && token.IsActive(at) {
			token.RevokedAt = copyTime(&at)
			revoked++
		}
	}
	return revoked, nil
}

func (t *MemoryTokens) ListByUser(_ context.Context, userID string) ([]model.RefreshToken, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	tokens := make([]model.RefreshToken, 0)
	for _, stored := range t.m.state.tokens {
		if stored.UserID == userID {
			stored.RevokedAt = copyTime(stored.RevokedAt)
			tokens = append(tokens, stored)
		}
	}
	sort.SliceStable(tokens, func(i, j int) bool { return tokens[i].CreatedAt.After(tokens[j].CreatedAt) })
	return tokens, nil
}

func (t *MemoryTokens) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := t.m.InTx(ctx, func(context.Context) error {
		t.m.mu.Lock()
		defer t.m.mu.Unlock()

		kept := t.m.state.tokens[:0]
		for _, stored := range t.m.state.tokens {
			dead := stored.ExpiresAt.Before(cutoff) || (stored.RevokedAt != nil && stored.RevokedAt.Before(cutoff))
			if dead {
				purged++
				continue
			}
			kept = append(kept, stored)
		}
		t.m.state.tokens = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// Expire moves the expiry of a stored token, for tests that need an
// expired token without waiting.
func (t *MemoryTokens) Expire(token string, at time.Time) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	for i := range t.m.state.tokens {
		if t.m.state.tokens[i].Token == token {
			t.m.state.tokens[i].ExpiresAt = at
		}
	}
}

type MemoryAudits struct{ m *MemoryStore }

func (a *MemoryAudits) Open(_ context.Context, entry model.SessionAudit) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	if err := a.m.fault("Audits.Open"); err != nil {
		return err
	}
	entry.LogoutTime = copyTime(entry.LogoutTime)
	a.m.state.audits = append(a.m.state.audits, entry)
	return nil
}

func (a *MemoryAudits) LatestOpen(_ context.Context, userID string) (model.SessionAudit, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	var latest *model.SessionAudit
	for i := range a.m.state.audits {
		entry := &a.m.state.audits[i]
		if entry.UserID != userID || !entry.IsOpen() {
			continue
		}
		if latest == nil || entry.LoginTime.After(latest.LoginTime) {
			latest = entry
		}
	}
	if latest == nil {
		return model.SessionAudit{}, model.ErrNoActiveSession
	}
	return *latest, nil
}

func (a *MemoryAudits) Close(_ context.Context, id string, at time.Time) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	if err := a.m.fault("Audits.Close"); err != nil {
		return err
	}
	for i := range a.m.state.audits {
		if a.m.state.audits[i].ID == id && a.m.state.audits[i].IsOpen() {
			a.m.state.audits[i].LogoutTime = copyTime(&at)
			return nil
		}
	}
	return model.ErrNoActiveSession
}

func (a *MemoryAudits) CloseAllOpen(_ context.Context, userID string, at time.Time) (int64, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	if err := a.m.fault("Audits.CloseAllOpen"); err != nil {
		return 0, err
	}
	var closed int64
	for i := range a.m.state.audits {
		if a.m.state.audits[i].UserID == userID && a.m.state.audits[i].IsOpen() {
			a.m.state.audits[i].LogoutTime = copyTime(&at)
			closed++
		}
	}
	return closed, nil
}

func (a *MemoryAudits) ListByUser(_ context.Context, userID string) ([]model.SessionAudit, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	entries := make([]model.SessionAudit, 0)
	for _, entry := range a.m.state.audits {
		if entry.UserID == userID {
			entry.LogoutTime = copyTime(entry.LogoutTime)
			entries = append(entries, entry)
		}
	}
	sortAuditsNewestFirst(entries)
	return entries, nil
}

func (a *MemoryAudits) Query(_ context.Context, query model.AuditQuery) ([]model.SessionAudit, model.Meta, error) {
	query = NormalizeAuditQuery(query)

	a.m.mu.Lock()
	all := make([]model.SessionAudit, 0, len(a.m.state.audits))
	for _, entry := range a.m.state.audits {
		entry.LogoutTime = copyTime(entry.LogoutTime)
		all = append(all, entry)
	}
	a.m.mu.Unlock()

	sortAuditsNewestFirst(all)

	start := (query.Page - 1) * query.Limit
	if start > len(all) {
		start = len(all)
	}
	end := start + query.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], PageMeta(query, len(all)), nil
}

func sortAuditsNewestFirst(entries []model.SessionAudit) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].LoginTime.After(entries[j].LoginTime) })
}
