package server

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/iam"
)

func (s *Server) createSAMLProvider(ctx context.Context, c *call) (response, error) {
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	p, err := s.dir.CreateSAMLProvider(ctx, acct.Name, c.fields["Name"], c.fields["SAMLMetadataDocument"])
	if err != nil {
		return nil, err
	}

	resp := &CreateSAMLProviderResponse{}
	resp.CreateSAMLProviderResult.SAMLProviderArn = p.ARN
	return resp, nil
}

func (s *Server) deleteSAMLProvider(ctx context.Context, c *call) (response, error) {
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.dir.DeleteSAMLProvider(ctx, acct.Name, c.fields["SAMLProviderArn"]); err != nil {
		return nil, err
	}
	return &DeleteSAMLProviderResponse{}, nil
}

func (s *Server) updateSAMLProvider(ctx context.Context, c *call) (response, error) {
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	p, err := s.dir.UpdateSAMLProvider(ctx, acct.Name, c.fields["SAMLProviderArn"], c.fields["SAMLMetadataDocument"])
	if err != nil {
		return nil, err
	}

	resp := &UpdateSAMLProviderResponse{}
	resp.UpdateSAMLProviderResult.SAMLProviderArn = p.ARN
	return resp, nil
}

func (s *Server) listSAMLProviders(ctx context.Context, c *call) (response, error) {
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	providers, err := s.dir.ListSAMLProviders(ctx, acct.Name)
	if err != nil {
		return nil, err
	}

	resp := &ListSAMLProvidersResponse{}
	for _, p := range providers {
		resp.ListSAMLProvidersResult.SAMLProviderList = append(resp.ListSAMLProvidersResult.SAMLProviderList, &iam.SAMLProviderListEntry{
			Arn:        aws.String(p.ARN),
			CreateDate: aws.Time(p.CreatedAt),
		})
	}
	return resp, nil
}
