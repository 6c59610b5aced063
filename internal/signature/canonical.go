package signature

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/private/protocol/rest"

	"github.com/isometry/s3-authserver/internal/crypto"
)

// Signature Version 4 constants.
const (
	Algorithm = "AWS4-HMAC-SHA256"

	iso8601Format   = "20060102T150405Z"
	yyyymmdd        = "20060102"
	scopeTerminator = "aws4_request"
	unsignedPayload = "UNSIGNED-PAYLOAD"
	serviceS3       = "s3"
)

// canonicalRequest serializes req the way the signing client did: method,
// URI, sorted query, the signed headers in signing order, the signed header
// list and the payload hash, newline separated.
func canonicalRequest(req *Request, info *authInfo) (string, error) {
	query, err := canonicalQuery(req.RawQuery, info.presigned)
	if err != nil {
		return "", err
	}

	return strings.Join([]string{
		req.Method,
		canonicalURI(req.Path, info.service),
		query,
		canonicalHeaders(req, info.signedHeaders),
		strings.Join(info.signedHeaders, ";"),
		payloadHash(req, info),
	}, "\n"), nil
}

// canonicalURI returns the escaped path. S3 signs the path as sent; every
// other service escapes it a second time.
func canonicalURI(path, service string) string {
	if path == "" {
		path = "/"
	}
	if service == serviceS3 {
		return path
	}
	return rest.EscapePath(path, false)
}

// canonicalQuery sorts the query by key and escapes it, with spaces as %20.
// The signature itself is excluded from a presigned query.
func canonicalQuery(rawQuery string, presigned bool) (string, error) {
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", err
	}
	if presigned {
		query.Del("X-Amz-Signature")
	}
	return strings.ReplaceAll(query.Encode(), "+", "%20"), nil
}

func canonicalHeaders(req *Request, signed []string) string {
	var b strings.Builder
	for _, name := range signed {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(headerValue(req, name))
		b.WriteByte('\n')
	}
	return b.String()
}

// headerValue joins all values of a header with commas, collapsing runs of
// whitespace. Host and Content-Length are not kept in the header map by
// net/http and are taken from the request itself.
func headerValue(req *Request, name string) string {
	var values []string
	switch name {
	case "host":
		values = []string{req.Host}
	case "content-length":
		values = req.Header.Values(name)
		if len(values) == 0 && req.ContentLength > 0 {
			values = []string{strconv.FormatInt(req.ContentLength, 10)}
		}
	default:
		values = req.Header.Values(name)
	}

	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.Join(strings.Fields(v), " ")
	}
	return strings.Join(trimmed, ",")
}

// checkPayload ties the declared payload hash to the request. A declared
// hash must be signed, and must match the body when the body is present.
// Only S3 may leave its payload unsigned.
func checkPayload(req *Request, info *authInfo) error {
	declared := req.Header.Get("X-Amz-Content-Sha256")
	if info.presigned || declared == "" {
		return nil
	}
	if !slices.Contains(info.signedHeaders, "x-amz-content-sha256") {
		return errors.New("x-amz-content-sha256 header is not signed")
	}
	if declared == unsignedPayload {
		if info.service != serviceS3 {
			return fmt.Errorf("unsigned payload is not accepted for service %q", info.service)
		}
		return nil
	}
	if req.Body != nil && declared != crypto.HexHash(req.Body) {
		return errors.New("payload does not match x-amz-content-sha256")
	}
	return nil
}

func payloadHash(req *Request, info *authInfo) string {
	if info.presigned {
		if info.service == serviceS3 {
			return unsignedPayload
		}
		return crypto.HexHash(req.Body)
	}
	if h := req.Header.Get("X-Amz-Content-Sha256"); h != "" {
		return h
	}
	return crypto.HexHash(req.Body)
}

func stringToSign(date time.Time, scope, canonical string) string {
	return strings.Join([]string{
		Algorithm,
		date.UTC().Format(iso8601Format),
		scope,
		crypto.HexHash([]byte(canonical)),
	}, "\n")
}

// signingKey derives the per-day, per-region, per-service key from secret.
func signingKey(secret, date, region, service string) []byte {
	k := crypto.HMAC([]byte("AWS4"+secret), []byte(date))
	k = crypto.HMAC(k, []byte(region))
	k = crypto.HMAC(k, []byte(service))
	return crypto.HMAC(k, []byte(scopeTerminator))
}

// computeSignature returns the hex signature of req under secret.
func computeSignature(req *Request, info *authInfo, secret string) (string, error) {
	canonical, err := canonicalRequest(req, info)
	if err != nil {
		return "", err
	}
	key := signingKey(secret, info.scopeDate, info.region, info.service)
	return crypto.HexEncode(crypto.HMAC(key, []byte(stringToSign(info.date, info.scope(), canonical)))), nil
}
