// Package signature authenticates requests signed with AWS Signature
// Version 4, in either the Authorization header or presigned query form.
package signature

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/singleflight"

	"github.com/isometry/s3-authserver/internal/crypto"
	"github.com/isometry/s3-authserver/internal/model"
)

// Subsystem is the log subsystem of this package.
const Subsystem = "signature"

const (
	// DefaultMaxSkew bounds the difference between the request date and
	// the verifier's clock.
	DefaultMaxSkew = 15 * time.Minute

	// MaxPresignExpiry is the longest validity a presigned request may
	// claim.
	MaxPresignExpiry = 7 * 24 * time.Hour

	// DefaultRegion is the region credential scopes must name unless
	// WithRegion says otherwise.
	DefaultRegion = "us-east-1"
)

// DefaultServices are the credential scope services accepted by default:
// IAM for the API itself and S3 for forwarded client requests.
var DefaultServices = []string{"iam", serviceS3}

// CredentialStore resolves an access key ID to the key, with its secret,
// and its owning user.
type CredentialStore interface {
	LookupCredential(ctx context.Context, accessKeyID string) (*model.Credential, error)
}

// Request is the part of an HTTP request covered by a signature. Path is
// the escaped request path. Body is nil when the body was not forwarded,
// in which case the declared payload hash is trusted as signed.
type Request struct {
	Method        string
	Host          string
	Path          string
	RawQuery      string
	Header        http.Header
	ContentLength int64
	Body          []byte
}

// FromHTTP captures r for verification. The body is read and replaced so
// that r can still be consumed by the caller.
func FromHTTP(r *http.Request) (*Request, error) {
	body := []byte{}
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}

	return &Request{
		Method:        r.Method,
		Host:          host,
		Path:          r.URL.EscapedPath(),
		RawQuery:      r.URL.RawQuery,
		Header:        r.Header,
		ContentLength: r.ContentLength,
		Body:          body,
	}, nil
}

// Verifier checks request signatures against secrets held in a
// CredentialStore. It is safe for concurrent use.
type Verifier struct {
	store    CredentialStore
	maxSkew  time.Duration
	region   string
	services []string
	now      func() time.Time
	metrics  *Metrics

	// decoy is signed with when the access key is unknown or inactive, so
	// that every request does the same cryptographic work.
	decoy string
	group singleflight.Group
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithMaxSkew sets the accepted clock skew. Non-positive values are
// ignored.
func WithMaxSkew(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

// WithRegion sets the region a credential scope must name.
func WithRegion(region string) Option {
	return func(v *Verifier) {
		if region != "" {
			v.region = region
		}
	}
}

// WithServices sets the services a credential scope may name.
func WithServices(services ...string) Option {
	return func(v *Verifier) {
		if len(services) > 0 {
			v.services = services
		}
	}
}

// WithClock sets the verifier's time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithMetrics records verification outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier returns a Verifier resolving secrets through store.
func NewVerifier(store CredentialStore, opts ...Option) *Verifier {
	v := &Verifier{
		store:    store,
		maxSkew:  DefaultMaxSkew,
		region:   DefaultRegion,
		services: DefaultServices,
		now:      time.Now,
		decoy:    crypto.Base64UUID(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify authenticates req and returns the caller's credential.
//
// A request that fails authentication yields a *Rejection. When more than
// one check fails the reason reported is, in order of precedence, an
// unknown or inactive key, an expired request, then a signature mismatch.
// Directory failures are returned unchanged and are not rejections.
func (v *Verifier) Verify(ctx context.Context, req *Request) (*model.Credential, error) {
	info, err := parseAuthInfo(req)
	if err != nil {
		return nil, v.reject(ctx, reject(ReasonUnknownAccessKey, "", err))
	}

	cred, err := v.lookup(ctx, info.accessKeyID)
	var unknown error
	secret := v.decoy
	switch {
	case errors.Is(err, model.ErrNoSuchEntity):
		unknown = err
	case err != nil:
		v.metrics.countOutcome("error")
		tflog.SubsystemError(ctx, Subsystem, "Credential lookup failed", map[string]any{
			"access_key_id": info.accessKeyID,
			"error":         err.Error(),
		})
		return nil, err
	case !cred.AccessKey.Active():
		unknown = errors.New("access key is inactive")
	default:
		secret = cred.AccessKey.SecretKey
	}

	mismatch := v.compare(req, info, secret)
	stale := v.checkFreshness(info)

	switch {
	case unknown != nil:
		return nil, v.reject(ctx, reject(ReasonUnknownAccessKey, info.accessKeyID, unknown))
	case stale != nil:
		return nil, v.reject(ctx, reject(ReasonRequestExpired, info.accessKeyID, stale))
	case mismatch != nil:
		return nil, v.reject(ctx, reject(ReasonSignatureMismatch, info.accessKeyID, mismatch))
	}

	v.metrics.countOutcome("authenticated")
	tflog.SubsystemDebug(ctx, Subsystem, "Request authenticated", map[string]any{
		"access_key_id": info.accessKeyID,
		"user":          cred.User.Name,
		"account":       cred.User.AccountName,
	})
	return cred, nil
}

// lookup resolves id, sharing one directory round trip among concurrent
// requests for the same key.
func (v *Verifier) lookup(ctx context.Context, id string) (*model.Credential, error) {
	result, err, _ := v.group.Do(id, func() (any, error) {
		return v.store.LookupCredential(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	cred := *result.(*model.Credential)
	return &cred, nil
}

// compare recomputes the signature under secret and compares it with the
// one supplied, in constant time.
func (v *Verifier) compare(req *Request, info *authInfo, secret string) error {
	expected, err := computeSignature(req, info, secret)
	if err != nil {
		return fmt.Errorf("canonicalize request: %w", err)
	}
	if !crypto.Equal([]byte(expected), []byte(info.signature)) {
		return errors.New("signature does not match")
	}
	if !info.date.IsZero() && info.date.Format(yyyymmdd) != info.scopeDate {
		return errors.New("credential scope date does not match request date")
	}
	if !slices.Contains(info.signedHeaders, "host") {
		return errors.New("host header is not signed")
	}
	if info.region != v.region {
		return fmt.Errorf("credential scope region %q is not %q", info.region, v.region)
	}
	if !slices.Contains(v.services, info.service) {
		return fmt.Errorf("credential scope service %q is not accepted", info.service)
	}
	return checkPayload(req, info)
}

func (v *Verifier) checkFreshness(info *authInfo) error {
	if info.date.IsZero() {
		return errors.New("missing or malformed request date")
	}

	now := v.now()
	if info.date.Sub(now) > v.maxSkew {
		return fmt.Errorf("request date %s is ahead of server time", info.date.Format(iso8601Format))
	}

	if info.presigned {
		if info.expires <= 0 || info.expires > MaxPresignExpiry {
			return fmt.Errorf("invalid presigned expiry %s", info.expires)
		}
		if now.After(info.date.Add(info.expires)) {
			return errors.New("presigned request has expired")
		}
		return nil
	}

	if now.Sub(info.date) > v.maxSkew {
		return fmt.Errorf("request date %s is older than %s", info.date.Format(iso8601Format), v.maxSkew)
	}
	return nil
}

func (v *Verifier) reject(ctx context.Context, r *Rejection) *Rejection {
	v.metrics.countOutcome(r.Reason.String())
	tflog.SubsystemInfo(ctx, Subsystem, "Request rejected", map[string]any{
		"reason":        r.Reason.String(),
		"access_key_id": r.AccessKeyID,
		"error":         r.Cause.Error(),
	})
	return r
}
