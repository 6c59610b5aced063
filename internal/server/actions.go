package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/s3-authserver/internal/model"
	"github.com/isometry/s3-authserver/internal/signature"
	"github.com/isometry/s3-authserver/internal/validator"
)

// access is who may invoke an action.
type access int

const (
	// accessAccount actions act within the caller's own account.
	accessAccount access = iota
	// accessAdmin actions require the administrator credential.
	accessAdmin
	// accessPublic actions are not signed by their caller. AuthenticateUser
	// verifies the signature of the request it carries instead.
	accessPublic
)

// call is one authorized invocation of an action.
type call struct {
	fields map[string]string
	caller *model.Credential
	admin  bool
	req    *http.Request
}

type action struct {
	op     validator.Operation
	check  func(fields map[string]string) error
	access access
	run    func(s *Server, ctx context.Context, c *call) (response, error)
}

func actionTable() map[string]action {
	op := func(kind model.Kind, verb validator.Verb) validator.Operation {
		return validator.Operation{Kind: kind, Verb: verb}
	}

	return map[string]action{
		"CreateAccount": {op: op(model.KindAccount, validator.VerbCreate), access: accessAdmin, run: (*Server).createAccount},
		"ListAccounts":  {op: op(model.KindAccount, validator.VerbList), access: accessAdmin, run: (*Server).listAccounts},
		"DeleteAccount": {op: op(model.KindAccount, validator.VerbDelete), access: accessAdmin, run: (*Server).deleteAccount},

		"CreateUser": {op: op(model.KindUser, validator.VerbCreate), run: (*Server).createUser},
		"DeleteUser": {op: op(model.KindUser, validator.VerbDelete), run: (*Server).deleteUser},
		"UpdateUser": {op: op(model.KindUser, validator.VerbUpdate), run: (*Server).updateUser},
		"ListUsers":  {op: op(model.KindUser, validator.VerbList), run: (*Server).listUsers},

		"CreateAccessKey": {op: op(model.KindAccessKey, validator.VerbCreate), run: (*Server).createAccessKey},
		"DeleteAccessKey": {op: op(model.KindAccessKey, validator.VerbDelete), run: (*Server).deleteAccessKey},
		"UpdateAccessKey": {op: op(model.KindAccessKey, validator.VerbUpdate), run: (*Server).updateAccessKey},
		"ListAccessKeys":  {op: op(model.KindAccessKey, validator.VerbList), run: (*Server).listAccessKeys},

		"CreateSAMLProvider": {op: op(model.KindSAMLProvider, validator.VerbCreate), run: (*Server).createSAMLProvider},
		"DeleteSAMLProvider": {op: op(model.KindSAMLProvider, validator.VerbDelete), run: (*Server).deleteSAMLProvider},
		"UpdateSAMLProvider": {op: op(model.KindSAMLProvider, validator.VerbUpdate), run: (*Server).updateSAMLProvider},
		"ListSAMLProviders":  {op: op(model.KindSAMLProvider, validator.VerbList), run: (*Server).listSAMLProviders},

		"AuthenticateUser": {check: checkAuthenticateUser, access: accessPublic, run: (*Server).authenticateUser},
		"InjectFault":      {check: checkInjectFault, access: accessAdmin, run: (*Server).injectFault},
		"ResetFault":       {check: checkResetFault, access: accessAdmin, run: (*Server).resetFault},
	}
}

// maxRequestBody admits a form-encoded SAML metadata document of the
// largest accepted size.
const maxRequestBody = 32 << 20

// doActions handles the POST form API. Each request is validated, then
// authenticated, then authorized before the directory is touched.
func (s *Server) doActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	signed, err := signature.FromHTTP(r)
	if err != nil {
		writeError(w, r, &model.ValidationError{Reason: err.Error()})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, &model.ValidationError{Reason: "malformed form body"})
		return
	}
	fields := formFields(r)

	name := fields["Action"]
	act, ok := s.actions[name]
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %q", errInvalidAction, name))
		return
	}
	infoFrom(ctx).action = name

	if err := s.validate(act, fields); err != nil {
		writeError(w, r, err)
		return
	}

	c := &call{fields: fields, req: r}
	if act.access != accessPublic {
		cred, err := s.auth.Verify(ctx, signed)
		if err != nil {
			writeError(w, r, err)
			return
		}
		c.caller = cred
		c.admin = s.isAdmin(cred)
		if act.access == accessAdmin && !c.admin {
			tflog.SubsystemWarn(ctx, Subsystem, "Administrator action refused", map[string]any{
				"action":        name,
				"access_key_id": cred.AccessKey.ID,
			})
			writeError(w, r, model.ErrAccessDenied)
			return
		}
	}

	resp, err := act.run(s, ctx, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, resp)
}

func (s *Server) validate(act action, fields map[string]string) error {
	if act.check != nil {
		return act.check(fields)
	}
	return s.validator.Check(act.op, fields)
}

func (s *Server) isAdmin(cred *model.Credential) bool {
	return s.config.AdminAccessKeyID != "" && cred.AccessKey.ID == s.config.AdminAccessKeyID
}

// formFields flattens the request form to its first values.
func formFields(r *http.Request) map[string]string {
	fields := make(map[string]string, len(r.Form))
	for k, v := range r.Form {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields
}

// account resolves the account an account-scoped action applies to. The
// administrator names it with AccountName; everyone else acts in their own.
func (s *Server) account(ctx context.Context, c *call) (*model.Account, error) {
	if !c.admin {
		return &model.Account{ID: c.caller.User.AccountID, Name: c.caller.User.AccountName}, nil
	}
	name := c.fields["AccountName"]
	if name == "" {
		return nil, &model.ValidationError{Field: "AccountName", Reason: "is required for the administrator"}
	}
	return s.dir.GetAccount(ctx, name)
}

// targetUser resolves the user named by UserName within the caller's
// account, or the caller when no UserName is given. Only the administrator
// and the account's root user may name another user.
func (s *Server) targetUser(ctx context.Context, c *call) (*model.User, error) {
	name := c.fields["UserName"]
	if name == "" {
		if c.admin {
			return nil, &model.ValidationError{Field: "UserName", Reason: "is required for the administrator"}
		}
		u := c.caller.User
		return &u, nil
	}
	if !c.admin && !c.caller.User.IsRoot() && name != c.caller.User.Name {
		tflog.SubsystemWarn(ctx, Subsystem, "Access key action on another user refused", map[string]any{
			"access_key_id": c.caller.AccessKey.ID,
			"target_user":   name,
		})
		return nil, model.ErrAccessDenied
	}
	acct, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	return s.dir.GetUser(ctx, acct.Name, name)
}
