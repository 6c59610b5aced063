// Package directory stores accounts, users, access keys and SAML providers
// in the LDAP identity tree.
package directory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/s3-authserver/internal/crypto"
	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/model"
)

// DefaultMaxItems is the page size of list operations when none is given.
const DefaultMaxItems = 100

// Store performs entity operations against the directory. Lookups run on
// the client's shared tier, mutations on its exclusive tier.
type Store struct {
	client    s3ldap.Client
	tree      Tree
	now       func() time.Time
	newID     func() string
	newSecret func() (string, error)
}

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the generator of account, user and access key IDs.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithSecretGenerator sets the generator of access key secrets.
func WithSecretGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.newSecret = gen }
}

// NewStore returns a Store for the identity tree under baseDN.
func NewStore(client s3ldap.Client, baseDN string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		tree:      Tree{BaseDN: baseDN},
		now:       time.Now,
		newID:     crypto.Base64UUID,
		newSecret: crypto.NewSecret,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the directory is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify(model.KindAccount, "", s.client.Ping(ctx))
}

// Tree returns the DN layout used by the store.
func (s *Store) Tree() Tree {
	return s.tree
}

// classify maps a directory error onto the model error taxonomy. Errors
// that are already classified pass through unchanged.
func classify(kind model.Kind, name string, err error) error {
	var entityErr *model.EntityError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &entityErr),
		errors.Is(err, model.ErrServiceUnavailable),
		errors.Is(err, model.ErrValidation):
		return err
	case s3ldap.IsUnavailableError(err):
		return fmt.Errorf("%w: %w", model.ErrServiceUnavailable, err)
	case s3ldap.IsNotFoundError(err):
		return model.NotFound(kind, name)
	case isNotAllowedOnNonLeaf(err):
		return model.DeleteConflict(kind, name, "entry has subordinate entries")
	case s3ldap.IsConflictError(err):
		return model.AlreadyExists(kind, name, err)
	default:
		return err
	}
}

func isNotAllowedOnNonLeaf(err error) bool {
	var ldapErr *s3ldap.LDAPError
	return errors.As(err, &ldapErr) && ldapErr.LDAPCode == ldap.LDAPResultNotAllowedOnNonLeaf
}

// findOne runs a base-scope search for dn and returns its entry, or an
// ErrNoSuchEntity error for kind/name.
func findOne(ctx context.Context, sess s3ldap.Session, dn, class string, attrs []string, kind model.Kind, name string) (*ldap.Entry, error) {
	result, err := sess.Search(ctx, &s3ldap.SearchRequest{
		BaseDN:     dn,
		Scope:      s3ldap.ScopeBaseObject,
		Filter:     fmt.Sprintf("(%s=%s)", attrObjectClass, class),
		Attributes: attrs,
		SizeLimit:  1,
	})
	if err != nil {
		return nil, classify(kind, name, err)
	}
	if len(result.Entries) == 0 {
		return nil, model.NotFound(kind, name)
	}
	return result.Entries[0], nil
}

// rollback deletes the given DNs in reverse order after a failed
// multi-entry write. It runs even if ctx has been cancelled.
func rollback(ctx context.Context, sess s3ldap.Session, dns []string) {
	ctx = context.WithoutCancel(ctx)
	for _, dn := range slices.Backward(dns) {
		if err := sess.Delete(ctx, dn); err != nil {
			tflog.SubsystemError(ctx, s3ldap.SubsystemLDAP, "Rollback failed, entry left behind", map[string]any{
				"dn":    dn,
				"error": err.Error(),
			})
		}
	}
}

// Page is one page of a listing.
type Page[T any] struct {
	Items       []T
	IsTruncated bool
	Marker      int // Offset of the next page when IsTruncated
}

// ListOptions selects a page of a listing. Marker is the offset returned
// by the previous page.
type ListOptions struct {
	PathPrefix string
	MaxItems   int
	Marker     int
}

func paginate[T any](items []T, opts ListOptions) *Page[T] {
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	start := min(max(opts.Marker, 0), len(items))
	end := min(start+maxItems, len(items))

	page := &Page[T]{Items: items[start:end]}
	if end < len(items) {
		page.IsTruncated = true
		page.Marker = end
	}
	return page
}

func sortByName[T any](items []T, name func(T) string) {
	slices.SortFunc(items, func(a, b T) int { return cmp.Compare(name(a), name(b)) })
}
