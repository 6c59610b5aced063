package server

import (
	"context"
	"strconv"

	"github.com/isometry/s3-authserver/internal/directory"
)

// listOptions reads the paging fields. They have already been validated.
func listOptions(fields map[string]string) directory.ListOptions {
	opts := directory.ListOptions{PathPrefix: fields["PathPrefix"]}
	if v, ok := fields["MaxItems"]; ok {
		opts.MaxItems, _ = strconv.Atoi(v)
	}
	if v, ok := fields["Marker"]; ok {
		opts.Marker, _ = strconv.Atoi(v)
	}
	return opts
}

func (s *Server) createUser(ctx context.Context, c *call) (response, error) {
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	u, err := s.dir.CreateUser(ctx, *acct, c.fields["UserName"], c.fields["Path"])
	if err != nil {
		return nil, err
	}

	resp := &CreateUserResponse{}
	resp.CreateUserResult.User = iamUser(u)
	return resp, nil
}

func (s *Server) deleteUser(ctx context.Context, c *call) (response, error) {
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.dir.DeleteUser(ctx, acct.Name, c.fields["UserName"]); err != nil {
		return nil, err
	}
	return &DeleteUserResponse{}, nil
}

func (s *Server) updateUser(ctx context.Context, c *call) (response, error) {
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	_, err = s.dir.UpdateUser(ctx, acct.Name, c.fields["UserName"], c.fields["NewUserName"], c.fields["NewPath"])
	if err != nil {
		return nil, err
	}
	return &UpdateUserResponse{}, nil
}

func (s *Server) listUsers(ctx context.Context, c *call) (response, error) {
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	page, err := s.dir.ListUsers(ctx, acct.Name, listOptions(c.fields))
	if err != nil {
		return nil, err
	}

	resp := &ListUsersResponse{}
	for i := range page.Items {
		u := iamUser(&page.Items[i])
		resp.ListUsersResult.Users = append(resp.ListUsersResult.Users, &u)
	}
	resp.ListUsersResult.IsTruncated = page.IsTruncated
	resp.ListUsersResult.Marker = nextMarker(page)
	return resp, nil
}
