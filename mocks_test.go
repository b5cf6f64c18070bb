package accounts_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	accounts "github.com/habitloop/go-accounts"
)

type testConfig struct {
	signingKey  string
	ttl         int
	sweepSecret string
}

func (c testConfig) GetSigningKey() string {
	if c.signingKey != "" {
		return c.signingKey
	}
	return "test-signing-key"
}

func (c testConfig) GetSigningMethod() string { return "HS256" }
func (c testConfig) GetContextKey() string    { return "session" }

func (c testConfig) GetAccessTokenTTL() int {
	if c.ttl > 0 {
		return c.ttl
	}
	return 15
}

func (c testConfig) GetTokenLookup() string { return "header:Authorization" }
func (c testConfig) GetAuthScheme() string  { return "Bearer" }
func (c testConfig) GetIssuer() string      { return "habitloop-test" }
func (c testConfig) GetAudience() []string  { return []string{"habitloop-web"} }

func (c testConfig) GetSweepSecret() string {
	if c.sweepSecret != "" {
		return c.sweepSecret
	}
	return "test-sweep-secret"
}

// memAccounts is an in-memory Accounts implementation with the same
// conditional-write semantics as the bun-backed repository.
type memAccounts struct {
	mu      sync.Mutex
	records map[uuid.UUID]*accounts.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		records: map[uuid.UUID]*accounts.Account{},
	}
}

func (m *memAccounts) clone(a *accounts.Account) *accounts.Account {
	cp := *a
	return &cp
}

func (m *memAccounts) put(a *accounts.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[a.ID] = m.clone(a)
}

func (m *memAccounts) notFound() error {
	return repository.NewRecordNotFound()
}

func (m *memAccounts) GetByID(_ context.Context, id string) (*accounts.Account, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, m.notFound()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.records[parsed]; ok {
		return m.clone(a), nil
	}
	return nil, m.notFound()
}

func (m *memAccounts) GetByEmail(_ context.Context, email string) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.records {
		if a.Email == email {
			return m.clone(a), nil
		}
	}
	return nil, m.notFound()
}

func (m *memAccounts) GetByResetTokenHash(_ context.Context, hash string) (*accounts.Account, error) {
	if hash == "" {
		return nil, m.notFound()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.records {
		if a.ResetPasswordTokenHash == hash {
			return m.clone(a), nil
		}
	}
	return nil, m.notFound()
}

func (m *memAccounts) GetByVerificationTokenHash(_ context.Context, hash string) (*accounts.Account, error) {
	if hash == "" {
		return nil, m.notFound()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.records {
		if a.VerificationTokenHash == hash {
			return m.clone(a), nil
		}
	}
	return nil, m.notFound()
}

func (m *memAccounts) Register(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	return m.RegisterTx(ctx, nil, account)
}

func (m *memAccounts) RegisterTx(_ context.Context, _ bun.IDB, account *accounts.Account) (*accounts.Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[account.ID] = m.clone(account)
	return m.clone(account), nil
}

func (m *memAccounts) StoreRefreshHash(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok {
		return m.notFound()
	}
	a.RefreshTokenHash = hash
	return nil
}

func (m *memAccounts) RotateRefreshHash(_ context.Context, id uuid.UUID, oldHash, newHash string) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok {
		return nil, accounts.ErrRefreshTokenInvalid
	}

	if a.RefreshTokenHash == "" || a.RefreshTokenHash != oldHash {
		return nil, accounts.ErrRefreshTokenInvalid
	}

	a.RefreshTokenHash = newHash
	return m.clone(a), nil
}

func (m *memAccounts) ClearSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok {
		return m.notFound()
	}
	a.RefreshTokenHash = ""
	return nil
}

func (m *memAccounts) SetResetToken(_ context.Context, id uuid.UUID, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok {
		return m.notFound()
	}
	a.ResetPasswordTokenHash = hash
	a.ResetPasswordExpiresAt = &expiresAt
	return nil
}

func (m *memAccounts) ConsumeResetToken(_ context.Context, id uuid.UUID, tokenHash, passwordHash string) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok {
		return nil, accounts.ErrResetTokenInvalid
	}

	if a.ResetPasswordTokenHash == "" || a.ResetPasswordTokenHash != tokenHash {
		return nil, accounts.ErrResetTokenInvalid
	}

	a.PasswordHash = passwordHash
	a.ResetPasswordTokenHash = ""
	a.ResetPasswordExpiresAt = nil
	a.RefreshTokenHash = ""
	return m.clone(a), nil
}

func (m *memAccounts) SetVerificationToken(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error {
	return m.SetVerificationTokenTx(ctx, nil, id, hash, expiresAt)
}

func (m *memAccounts) SetVerificationTokenTx(_ context.Context, _ bun.IDB, id uuid.UUID, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok {
		return m.notFound()
	}
	a.VerificationTokenHash = hash
	a.VerificationExpiresAt = &expiresAt
	return nil
}

func (m *memAccounts) MarkVerified(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok {
		return nil, m.notFound()
	}
	a.IsVerified = true
	a.VerificationTokenHash = ""
	a.VerificationExpiresAt = nil
	return m.clone(a), nil
}

func (m *memAccounts) MarkDeleted(_ context.Context, id uuid.UUID, at time.Time) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok || a.IsDeactivated {
		return nil, m.notFound()
	}
	a.IsDeleted = true
	a.DeletedAt = &at
	a.RefreshTokenHash = ""
	return m.clone(a), nil
}

func (m *memAccounts) MarkRecovered(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok || a.IsDeactivated {
		return nil, m.notFound()
	}
	a.IsDeleted = false
	a.DeletedAt = nil
	return m.clone(a), nil
}

func (m *memAccounts) MarkDeactivated(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.records[id]
	if !ok {
		return nil, m.notFound()
	}
	a.IsDeactivated = true
	a.RefreshTokenHash = ""
	a.ResetPasswordTokenHash = ""
	a.ResetPasswordExpiresAt = nil
	a.VerificationTokenHash = ""
	a.VerificationExpiresAt = nil
	return m.clone(a), nil
}

func (m *memAccounts) SweepDeactivate(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, a := range m.records {
		if !a.IsDeleted || a.IsDeactivated || a.DeletedAt == nil {
			continue
		}
		if a.DeletedAt.After(cutoff) {
			continue
		}
		a.IsDeactivated = true
		a.RefreshTokenHash = ""
		a.ResetPasswordTokenHash = ""
		a.ResetPasswordExpiresAt = nil
		a.VerificationTokenHash = ""
		a.VerificationExpiresAt = nil
		count++
	}

	return count, nil
}

var _ accounts.Accounts = (*memAccounts)(nil)

// memRepoManager satisfies RepositoryManager without a database. RunInTx
// simply invokes the function; the in-memory store has no transactions.
type memRepoManager struct {
	accounts *memAccounts
}

func newMemRepoManager() *memRepoManager {
	return &memRepoManager{accounts: newMemAccounts()}
}

func (m *memRepoManager) Validate() error { return nil }
func (m *memRepoManager) MustValidate()   {}

func (m *memRepoManager) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return f(ctx, bun.Tx{})
	}
}

func (m *memRepoManager) Accounts() accounts.Accounts {
	return m.accounts
}

var _ accounts.RepositoryManager = (*memRepoManager)(nil)

// recordingSink captures activity events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Events() []accounts.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounts.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) HasEvent(eventType accounts.ActivityEventType) bool {
	for _, e := range s.Events() {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

// recordingMailer captures deliveries, optionally failing them.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailDelivery
	err  error
}

type mailDelivery struct {
	Address  string
	Template accounts.MailTemplate
	Payload  map[string]any
}

func (m *recordingMailer) Send(_ context.Context, address string, template accounts.MailTemplate, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mailDelivery{Address: address, Template: template, Payload: payload})
	return m.err
}

func (m *recordingMailer) Deliveries() []mailDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mailDelivery, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *recordingMailer) LastToken(template accounts.MailTemplate) string {
	for _, d := range m.Deliveries() {
		if d.Template == template {
			if token, ok := d.Payload["token"].(string); ok {
				return token
			}
		}
	}
	return ""
}

// MockContext mocks router.Context for controller tests
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

var (
	hashCacheMu sync.Mutex
	hashCache   = map[string]string{}
)

// mustHashPassword memoizes per-password hashes; the production bcrypt cost
// makes fresh hashes expensive for every seeded account.
func mustHashPassword(password string) string {
	hashCacheMu.Lock()
	defer hashCacheMu.Unlock()

	if h, ok := hashCache[password]; ok {
		return h
	}

	hash, err := accounts.HashPassword(password)
	if err != nil {
		panic(err)
	}

	hashCache[password] = hash
	return hash
}

func seedAccount(repo *memRepoManager, mutate ...func(*accounts.Account)) *accounts.Account {
	account := &accounts.Account{
		ID:           uuid.New(),
		Handle:       "pepe",
		Email:        "pepe.rone@example.com",
		PasswordHash: mustHashPassword("super-secret-password"),
		IsVerified:   true,
	}

	for _, m := range mutate {
		m(account)
	}

	repo.accounts.put(account)
	return account
}
