package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/isometry/s3-authserver/internal/model"
	"github.com/isometry/s3-authserver/internal/signature"
)

// Form fields of AuthenticateUser that describe the forwarded request.
// Every other field except Action and Version is one of its headers.
var forwardedRequestFields = map[string]bool{
	"Action":            true,
	"Version":           true,
	"Method":            true,
	"ClientAbsoluteUri": true,
	"ClientQueryParams": true,
}

func checkAuthenticateUser(fields map[string]string) error {
	if fields["Method"] == "" {
		return &model.ValidationError{Field: "Method", Reason: "is required"}
	}
	uri := fields["ClientAbsoluteUri"]
	if !strings.HasPrefix(uri, "/") {
		return &model.ValidationError{Field: "ClientAbsoluteUri", Reason: "must be an absolute path"}
	}
	if v, ok := fields["Content-Length"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err != nil || n < 0 {
			return &model.ValidationError{Field: "Content-Length", Reason: "must be a non-negative integer"}
		}
	}
	return nil
}

// forwardedRequest rebuilds the client request an S3 data server forwarded
// for authentication. Its body is not forwarded; the payload hash is taken
// from the client's X-Amz-Content-Sha256 header.
func forwardedRequest(r *http.Request) *signature.Request {
	header := make(http.Header)
	for k, values := range r.PostForm {
		if forwardedRequestFields[k] {
			continue
		}
		for _, v := range values {
			header.Add(k, v)
		}
	}

	req := &signature.Request{
		Method:   r.PostForm.Get("Method"),
		Host:     header.Get("Host"),
		Path:     r.PostForm.Get("ClientAbsoluteUri"),
		RawQuery: r.PostForm.Get("ClientQueryParams"),
		Header:   header,
	}
	header.Del("Host")
	if v := header.Get("Content-Length"); v != "" {
		req.ContentLength, _ = strconv.ParseInt(v, 10, 64)
	}
	return req
}

// servesHost reports whether host, with or without a port, is one of the
// configured endpoints or a bucket subdomain of one. Every host is served
// when no endpoints are configured.
func (s *Server) servesHost(host string) bool {
	if len(s.endpoints) == 0 {
		return true
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	for _, e := range s.endpoints {
		if host == e || strings.HasSuffix(host, "."+e) {
			return true
		}
	}
	return false
}

func (s *Server) authenticateUser(ctx context.Context, c *call) (response, error) {
	req := forwardedRequest(c.req)
	if !s.servesHost(req.Host) {
		return nil, &model.ValidationError{Field: "Host", Reason: "is not a served endpoint"}
	}

	cred, err := s.auth.Verify(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &AuthenticateUserResponse{}
	resp.AuthenticateUserResult.UserId = cred.User.ID
	resp.AuthenticateUserResult.UserName = cred.User.Name
	resp.AuthenticateUserResult.AccountId = cred.User.AccountID
	resp.AuthenticateUserResult.AccountName = cred.User.AccountName
	return resp, nil
}
