package server

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/s3-authserver/internal/model"
)

func (s *Server) createAccessKey(ctx context.Context, c *call) (response, error) {
	u, err := s.targetUser(ctx, c)
	if err != nil {
		return nil, err
	}
	key, err := s.dir.CreateAccessKey(ctx, *u)
	if err != nil {
		return nil, err
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Access key created", map[string]any{
		"user":          u.Name,
		"account":       u.AccountName,
		"access_key_id": key.ID,
	})

	resp := &CreateAccessKeyResponse{}
	resp.CreateAccessKeyResult.AccessKey = iam.AccessKey{
		AccessKeyId:     aws.String(key.ID),
		SecretAccessKey: aws.String(key.SecretKey),
		UserName:        aws.String(u.Name),
		Status:          aws.String(string(key.Status)),
		CreateDate:      aws.Time(key.CreatedAt),
	}
	return resp, nil
}

func (s *Server) deleteAccessKey(ctx context.Context, c *call) (response, error) {
	u, err := s.targetUser(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.dir.DeleteAccessKey(ctx, *u, c.fields["AccessKeyId"]); err != nil {
		return nil, err
	}
	return &DeleteAccessKeyResponse{}, nil
}

func (s *Server) updateAccessKey(ctx context.Context, c *call) (response, error) {
	u, err := s.targetUser(ctx, c)
	if err != nil {
		return nil, err
	}
	status := model.AccessKeyStatus(c.fields["Status"])
	if err := s.dir.UpdateAccessKey(ctx, *u, c.fields["AccessKeyId"], status); err != nil {
		return nil, err
	}
	return &UpdateAccessKeyResponse{}, nil
}

func (s *Server) listAccessKeys(ctx context.Context, c *call) (response, error) {
	u, err := s.targetUser(ctx, c)
	if err != nil {
		return nil, err
	}
	page, err := s.dir.ListAccessKeys(ctx, *u, listOptions(c.fields))
	if err != nil {
		return nil, err
	}

	resp := &ListAccessKeysResponse{}
	for i := range page.Items {
		resp.ListAccessKeysResult.AccessKeyMetadata = append(resp.ListAccessKeysResult.AccessKeyMetadata, iamAccessKeyMetadata(&page.Items[i]))
	}
	resp.ListAccessKeysResult.IsTruncated = page.IsTruncated
	resp.ListAccessKeysResult.Marker = nextMarker(page)
	return resp, nil
}
