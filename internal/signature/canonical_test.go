package signature

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/s3-authserver/internal/crypto"
)

func TestSigningKey(t *testing.T) {
	// Key derivation example from the AWS General Reference.
	key := signingKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "20120215", "us-east-1", "iam")
	assert.Equal(t, "f4780e2d9f65fa895f9c67b32ce1baf0b0d8a43505a000a1a9e090d414db404d", crypto.HexEncode(key))
}

func TestCanonicalQuery(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		presigned bool
		want      string
	}{
		{"empty", "", false, ""},
		{"sorted by key", "b=2&a=1", false, "a=1&b=2"},
		{"space as %20", "c=x+y&d=x%20y", false, "c=x%20y&d=x%20y"},
		{"reserved characters escaped", "k=a/b:c", false, "k=a%2Fb%3Ac"},
		{"unreserved characters kept", "k=a-b_c.d~e", false, "k=a-b_c.d~e"},
		{"valueless key", "acl", false, "acl="},
		{"presigned signature removed", "X-Amz-Signature=abc&X-Amz-Date=20260301T120000Z", true, "X-Amz-Date=20260301T120000Z"},
		{"signature kept when not presigned", "X-Amz-Signature=abc", false, "X-Amz-Signature=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonicalQuery(tt.raw, tt.presigned)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := canonicalQuery("a=%zz", false)
	assert.Error(t, err)
}

func TestCanonicalURI(t *testing.T) {
	assert.Equal(t, "/", canonicalURI("", "iam"))
	assert.Equal(t, "/", canonicalURI("/", "iam"))
	assert.Equal(t, "/a%2520b", canonicalURI("/a%20b", "iam"))
	assert.Equal(t, "/a%20b", canonicalURI("/a%20b", "s3"))
}

func TestCanonicalHeaders(t *testing.T) {
	header := http.Header{}
	header.Add("X-Amz-Meta-Tags", "  a   b  ")
	header.Add("X-Amz-Meta-Tags", "c\td")
	header.Set("X-Amz-Date", "20260301T120000Z")
	header.Set("Content-Type", "text/plain")

	req := &Request{Host: "iam.seagate.com", Header: header, ContentLength: 42}
	got := canonicalHeaders(req, []string{"content-length", "host", "x-amz-date", "x-amz-meta-tags"})

	assert.Equal(t, "content-length:42\n"+
		"host:iam.seagate.com\n"+
		"x-amz-date:20260301T120000Z\n"+
		"x-amz-meta-tags:a b,c d\n", got)
	assert.Equal(t, []string{"  a   b  ", "c\td"}, header.Values("X-Amz-Meta-Tags"), "request headers must not be modified")
}

func TestPayloadHash(t *testing.T) {
	body := []byte("Action=ListUsers")
	header := http.Header{}
	req := &Request{Header: header, Body: body}

	assert.Equal(t, crypto.HexHash(body), payloadHash(req, &authInfo{service: "iam"}))
	assert.Equal(t, crypto.HexHash(body), payloadHash(req, &authInfo{service: "iam", presigned: true}))
	assert.Equal(t, unsignedPayload, payloadHash(req, &authInfo{service: "s3", presigned: true}))

	header.Set("X-Amz-Content-Sha256", "STREAMING-AWS4-HMAC-SHA256-PAYLOAD")
	assert.Equal(t, "STREAMING-AWS4-HMAC-SHA256-PAYLOAD", payloadHash(req, &authInfo{service: "s3"}))
}

func TestStringToSign(t *testing.T) {
	info := &authInfo{scopeDate: "20260301", region: "us-east-1", service: "iam"}
	got := stringToSign(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), info.scope(), "canonical")

	assert.Equal(t, "AWS4-HMAC-SHA256\n"+
		"20260301T120000Z\n"+
		"20260301/us-east-1/iam/aws4_request\n"+
		crypto.HexHash([]byte("canonical")), got)
}

func TestParseAuthorization(t *testing.T) {
	header := http.Header{}
	header.Set("Authorization", "AWS4-HMAC-SHA256 Credential=AKID/20260301/us-east-1/iam/aws4_request, SignedHeaders=Host;X-Amz-Date, Signature=abcd")
	header.Set("X-Amz-Date", "20260301T120000Z")

	info, err := parseAuthorization(header)
	require.NoError(t, err)
	assert.Equal(t, "AKID", info.accessKeyID)
	assert.Equal(t, "20260301/us-east-1/iam/aws4_request", info.scope())
	assert.Equal(t, []string{"host", "x-amz-date"}, info.signedHeaders)
	assert.Equal(t, "abcd", info.signature)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), info.date)
	assert.False(t, info.presigned)
}

func TestRequestDate(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	header := http.Header{}
	assert.True(t, requestDate(header).IsZero())

	header.Set("Date", "Sun, 01 Mar 2026 12:00:00 GMT")
	assert.True(t, want.Equal(requestDate(header)))

	header.Set("X-Amz-Date", "20260301T120000Z")
	assert.True(t, want.Equal(requestDate(header)))

	header.Set("X-Amz-Date", "yesterday")
	assert.True(t, requestDate(header).IsZero())
}
