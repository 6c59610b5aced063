package server

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/isometry/s3-authserver/internal/directory"
	"github.com/isometry/s3-authserver/internal/model"
)

var createdAt = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// fakeDirectory is an in-memory Directory and credential store. calls
// counts every method invocation.
type fakeDirectory struct {
	mu        sync.Mutex
	seq       int
	accounts  map[string]model.Account
	users     map[string]map[string]model.User
	keys      map[string]model.AccessKey
	providers map[string]map[string]model.SAMLProvider
	pingErr   error
	calls     atomic.Int32
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		accounts:  make(map[string]model.Account),
		users:     make(map[string]map[string]model.User),
		keys:      make(map[string]model.AccessKey),
		providers: make(map[string]map[string]model.SAMLProvider),
	}
}

func (d *fakeDirectory) enter() func() {
	d.calls.Add(1)
	d.mu.Lock()
	return d.mu.Unlock
}

func (d *fakeDirectory) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s-%d", prefix, d.seq)
}

func (d *fakeDirectory) newKey(u model.User) model.AccessKey {
	id := d.nextID("AKID")
	k := model.AccessKey{
		ID:        id,
		SecretKey: "secret-" + id,
		UserID:    u.ID,
		UserName:  u.Name,
		Status:    model.StatusActive,
		CreatedAt: createdAt,
	}
	d.keys[id] = k
	return k
}

func (d *fakeDirectory) newUser(account model.Account, name, path string) model.User {
	if path == "" {
		path = model.DefaultPath
	}
	u := model.User{
		ID:          d.nextID("user"),
		Name:        name,
		Path:        path,
		AccountID:   account.ID,
		AccountName: account.Name,
		ARN:         model.UserARN(account.ID, path, name),
		CreatedAt:   createdAt,
	}
	d.users[account.Name][name] = u
	return u
}

func page[T any](items []T, opts directory.ListOptions) *directory.Page[T] {
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = directory.DefaultMaxItems
	}
	start := min(opts.Marker, len(items))
	end := min(start+maxItems, len(items))
	p := &directory.Page[T]{Items: items[start:end]}
	if end < len(items) {
		p.IsTruncated = true
		p.Marker = end
	}
	return p
}

func (d *fakeDirectory) CreateAccount(_ context.Context, name string) (*model.AccountCreation, error) {
	defer d.enter()()
	if _, ok := d.accounts[name]; ok {
		return nil, model.AlreadyExists(model.KindAccount, name, nil)
	}
	acct := model.Account{ID: d.nextID("acct"), Name: name, CreatedAt: createdAt}
	d.accounts[name] = acct
	d.users[name] = make(map[string]model.User)
	d.providers[name] = make(map[string]model.SAMLProvider)
	root := d.newUser(acct, name, "")
	return &model.AccountCreation{Account: acct, RootUser: root, AccessKey: d.newKey(root)}, nil
}

func (d *fakeDirectory) GetAccount(_ context.Context, name string) (*model.Account, error) {
	defer d.enter()()
	acct, ok := d.accounts[name]
	if !ok {
		return nil, model.NotFound(model.KindAccount, name)
	}
	return &acct, nil
}

func (d *fakeDirectory) ListAccounts(context.Context) ([]model.Account, error) {
	defer d.enter()()
	accounts := slices.Collect(maps.Values(d.accounts))
	slices.SortFunc(accounts, func(a, b model.Account) int { return cmp.Compare(a.Name, b.Name) })
	return accounts, nil
}

func (d *fakeDirectory) DeleteAccount(_ context.Context, name string) error {
	defer d.enter()()
	if _, ok := d.accounts[name]; !ok {
		return model.NotFound(model.KindAccount, name)
	}
	if len(d.users[name]) > 1 {
		return model.DeleteConflict(model.KindAccount, name, "account still has users")
	}
	delete(d.accounts, name)
	delete(d.users, name)
	return nil
}

func (d *fakeDirectory) CreateUser(_ context.Context, account model.Account, name, path string) (*model.User, error) {
	defer d.enter()()
	users, ok := d.users[account.Name]
	if !ok {
		return nil, model.NotFound(model.KindAccount, account.Name)
	}
	if _, ok := users[name]; ok {
		return nil, model.AlreadyExists(model.KindUser, name, nil)
	}
	u := d.newUser(account, name, path)
	return &u, nil
}

func (d *fakeDirectory) GetUser(_ context.Context, accountName, name string) (*model.User, error) {
	defer d.enter()()
	u, ok := d.users[accountName][name]
	if !ok {
		return nil, model.NotFound(model.KindUser, name)
	}
	return &u, nil
}

func (d *fakeDirectory) DeleteUser(_ context.Context, accountName, name string) error {
	defer d.enter()()
	u, ok := d.users[accountName][name]
	if !ok {
		return model.NotFound(model.KindUser, name)
	}
	if u.IsRoot() {
		return model.DeleteConflict(model.KindUser, name, "the root user is deleted with its account")
	}
	for id, k := range d.keys {
		if k.UserID == u.ID {
			delete(d.keys, id)
		}
	}
	delete(d.users[accountName], name)
	return nil
}

func (d *fakeDirectory) UpdateUser(_ context.Context, accountName, name, newName, newPath string) (*model.User, error) {
	defer d.enter()()
	u, ok := d.users[accountName][name]
	if !ok {
		return nil, model.NotFound(model.KindUser, name)
	}
	if newName != "" && newName != name {
		if _, taken := d.users[accountName][newName]; taken {
			return nil, model.AlreadyExists(model.KindUser, newName, nil)
		}
		delete(d.users[accountName], name)
		u.Name = newName
	}
	if newPath != "" {
		u.Path = newPath
	}
	u.ARN = model.UserARN(u.AccountID, u.Path, u.Name)
	d.users[accountName][u.Name] = u
	return &u, nil
}

func (d *fakeDirectory) ListUsers(_ context.Context, accountName string, opts directory.ListOptions) (*directory.Page[model.User], error) {
	defer d.enter()()
	users, ok := d.users[accountName]
	if !ok {
		return nil, model.NotFound(model.KindAccount, accountName)
	}
	var matched []model.User
	for _, u := range users {
		if strings.HasPrefix(u.Path, opts.PathPrefix) {
			matched = append(matched, u)
		}
	}
	slices.SortFunc(matched, func(a, b model.User) int { return cmp.Compare(a.Name, b.Name) })
	return page(matched, opts), nil
}

func (d *fakeDirectory) CreateAccessKey(_ context.Context, u model.User) (*model.AccessKey, error) {
	defer d.enter()()
	k := d.newKey(u)
	return &k, nil
}

func (d *fakeDirectory) ownKey(u model.User, id string) (model.AccessKey, error) {
	k, ok := d.keys[id]
	if !ok || k.UserID != u.ID {
		return model.AccessKey{}, model.NotFound(model.KindAccessKey, id)
	}
	return k, nil
}

func (d *fakeDirectory) DeleteAccessKey(_ context.Context, u model.User, id string) error {
	defer d.enter()()
	if _, err := d.ownKey(u, id); err != nil {
		return err
	}
	delete(d.keys, id)
	return nil
}

func (d *fakeDirectory) UpdateAccessKey(_ context.Context, u model.User, id string, status model.AccessKeyStatus) error {
	defer d.enter()()
	k, err := d.ownKey(u, id)
	if err != nil {
		return err
	}
	k.Status = status
	d.keys[id] = k
	return nil
}

func (d *fakeDirectory) ListAccessKeys(_ context.Context, u model.User, opts directory.ListOptions) (*directory.Page[model.AccessKey], error) {
	defer d.enter()()
	var keys []model.AccessKey
	for _, k := range d.keys {
		if k.UserID == u.ID {
			k.SecretKey = ""
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b model.AccessKey) int { return cmp.Compare(a.ID, b.ID) })
	return page(keys, opts), nil
}

func (d *fakeDirectory) CreateSAMLProvider(_ context.Context, accountName, name, metadata string) (*model.SAMLProvider, error) {
	defer d.enter()()
	providers, ok := d.providers[accountName]
	if !ok {
		return nil, model.NotFound(model.KindAccount, accountName)
	}
	if _, ok := providers[name]; ok {
		return nil, model.AlreadyExists(model.KindSAMLProvider, name, nil)
	}
	p := model.SAMLProvider{
		ARN:              model.SAMLProviderARN(accountName, name),
		Name:             name,
		AccountName:      accountName,
		MetadataDocument: metadata,
		CreatedAt:        createdAt,
	}
	providers[name] = p
	return &p, nil
}

func (d *fakeDirectory) provider(accountName, arn string) (model.SAMLProvider, error) {
	owner, name, err := model.ParseSAMLProviderARN(arn)
	if err != nil {
		return model.SAMLProvider{}, err
	}
	p, ok := d.providers[owner][name]
	if owner != accountName || !ok {
		return model.SAMLProvider{}, model.NotFound(model.KindSAMLProvider, arn)
	}
	return p, nil
}

func (d *fakeDirectory) DeleteSAMLProvider(_ context.Context, accountName, arn string) error {
	defer d.enter()()
	p, err := d.provider(accountName, arn)
	if err != nil {
		return err
	}
	delete(d.providers[accountName], p.Name)
	return nil
}

func (d *fakeDirectory) UpdateSAMLProvider(_ context.Context, accountName, arn, metadata string) (*model.SAMLProvider, error) {
	defer d.enter()()
	p, err := d.provider(accountName, arn)
	if err != nil {
		return nil, err
	}
	p.MetadataDocument = metadata
	d.providers[accountName][p.Name] = p
	return &p, nil
}

func (d *fakeDirectory) ListSAMLProviders(_ context.Context, accountName string) ([]model.SAMLProvider, error) {
	defer d.enter()()
	providers, ok := d.providers[accountName]
	if !ok {
		return nil, model.NotFound(model.KindAccount, accountName)
	}
	list := slices.Collect(maps.Values(providers))
	slices.SortFunc(list, func(a, b model.SAMLProvider) int { return cmp.Compare(a.Name, b.Name) })
	return list, nil
}

func (d *fakeDirectory) Ping(context.Context) error {
	defer d.enter()()
	return d.pingErr
}

func (d *fakeDirectory) LookupCredential(_ context.Context, id string) (*model.Credential, error) {
	defer d.enter()()
	k, ok := d.keys[id]
	if !ok {
		return nil, model.NotFound(model.KindAccessKey, id)
	}
	for _, users := range d.users {
		for _, u := range users {
			if u.ID == k.UserID {
				return &model.Credential{AccessKey: k, User: u}, nil
			}
		}
	}
	return nil, model.NotFound(model.KindUser, k.UserID)
}
