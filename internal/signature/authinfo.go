package signature

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	errNotSigned           = errors.New("request carries no signature")
	errMalformedCredential = errors.New("malformed credential scope")
)

// authInfo is the signature material claimed by a request, from either the
// Authorization header or a presigned query string.
type authInfo struct {
	accessKeyID   string
	scopeDate     string
	region        string
	service       string
	signedHeaders []string
	signature     string

	// date is zero when the request date is absent or malformed.
	date      time.Time
	presigned bool
	expires   time.Duration
}

func (a *authInfo) scope() string {
	return strings.Join([]string{a.scopeDate, a.region, a.service, scopeTerminator}, "/")
}

// parseAuthInfo extracts the claimed signature material. An error means no
// access key could be identified.
func parseAuthInfo(req *Request) (*authInfo, error) {
	query, err := url.ParseQuery(req.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("malformed query string: %w", err)
	}
	if query.Has("X-Amz-Algorithm") {
		return parsePresigned(query)
	}
	return parseAuthorization(req.Header)
}

func parseAuthorization(header http.Header) (*authInfo, error) {
	auth := header.Get("Authorization")
	if auth == "" {
		return nil, errNotSigned
	}

	algorithm, fields, _ := strings.Cut(auth, " ")
	if algorithm != Algorithm {
		return nil, fmt.Errorf("unsupported signature algorithm %q", algorithm)
	}

	info := &authInfo{}
	var credential string
	for _, field := range strings.Split(fields, ",") {
		key, value, _ := strings.Cut(strings.TrimSpace(field), "=")
		switch key {
		case "Credential":
			credential = value
		case "SignedHeaders":
			info.signedHeaders = splitSignedHeaders(value)
		case "Signature":
			info.signature = value
		}
	}
	if err := info.parseCredential(credential); err != nil {
		return nil, err
	}

	info.date = requestDate(header)
	return info, nil
}

func parsePresigned(query url.Values) (*authInfo, error) {
	if algorithm := query.Get("X-Amz-Algorithm"); algorithm != Algorithm {
		return nil, fmt.Errorf("unsupported signature algorithm %q", algorithm)
	}

	info := &authInfo{
		presigned:     true,
		signedHeaders: splitSignedHeaders(query.Get("X-Amz-SignedHeaders")),
		signature:     query.Get("X-Amz-Signature"),
	}
	if err := info.parseCredential(query.Get("X-Amz-Credential")); err != nil {
		return nil, err
	}

	info.date, _ = time.Parse(iso8601Format, query.Get("X-Amz-Date"))
	if secs, err := strconv.Atoi(query.Get("X-Amz-Expires")); err == nil {
		info.expires = time.Duration(secs) * time.Second
	}
	return info, nil
}

// parseCredential parses <id>/<yyyymmdd>/<region>/<service>/aws4_request.
func (a *authInfo) parseCredential(credential string) error {
	parts := strings.Split(credential, "/")
	if len(parts) != 5 || parts[0] == "" || parts[4] != scopeTerminator {
		return errMalformedCredential
	}
	if _, err := time.Parse(yyyymmdd, parts[1]); err != nil {
		return errMalformedCredential
	}

	a.accessKeyID = parts[0]
	a.scopeDate = parts[1]
	a.region = parts[2]
	a.service = parts[3]
	return nil
}

// requestDate returns the X-Amz-Date header, falling back to Date.
func requestDate(header http.Header) time.Time {
	if v := header.Get("X-Amz-Date"); v != "" {
		t, _ := time.Parse(iso8601Format, v)
		return t
	}
	if v := header.Get("Date"); v != "" {
		t, _ := http.ParseTime(v)
		return t.UTC()
	}
	return time.Time{}
}

func splitSignedHeaders(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(strings.ToLower(value), ";")
}
