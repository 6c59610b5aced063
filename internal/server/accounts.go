package server

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

func (s *Server) createAccount(ctx context.Context, c *call) (response, error) {
	created, err := s.dir.CreateAccount(ctx, c.fields["AccountName"])
	if err != nil {
		return nil, err
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Account created", map[string]any{
		"account":    created.Account.Name,
		"account_id": created.Account.ID,
	})

	resp := &CreateAccountResponse{}
	resp.CreateAccountResult.Account = AccountResult{
		AccountId:       created.Account.ID,
		AccountName:     created.Account.Name,
		RootUserName:    created.RootUser.Name,
		AccessKeyId:     created.AccessKey.ID,
		RootSecretKeyId: created.AccessKey.SecretKey,
		Status:          string(created.AccessKey.Status),
	}
	return resp, nil
}

func (s *Server) listAccounts(ctx context.Context, _ *call) (response, error) {
	accounts, err := s.dir.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	resp := &ListAccountsResponse{}
	for _, a := range accounts {
		resp.ListAccountsResult.Accounts = append(resp.ListAccountsResult.Accounts, AccountMember{
			AccountId:   a.ID,
			AccountName: a.Name,
		})
	}
	return resp, nil
}

func (s *Server) deleteAccount(ctx context.Context, c *call) (response, error) {
	if err := s.dir.DeleteAccount(ctx, c.fields["AccountName"]); err != nil {
		return nil, err
	}
	tflog.SubsystemInfo(ctx, Subsystem, "Account deleted", map[string]any{
		"account": c.fields["AccountName"],
	})
	return &DeleteAccountResponse{}, nil
}
