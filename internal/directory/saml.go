package directory

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/model"
)

func samlProviderFromEntry(entry *ldap.Entry, accountName string) model.SAMLProvider {
	name := entry.GetAttributeValue(attrName)
	return model.SAMLProvider{
		ARN:              model.SAMLProviderARN(accountName, name),
		Name:             name,
		AccountName:      accountName,
		MetadataDocument: entry.GetAttributeValue(attrSAMLMetadata),
		CreatedAt:        parseTimestamp(entry.GetAttributeValue(attrCreateTimestamp)),
	}
}

// CreateSAMLProvider registers a SAML identity provider in account.
func (s *Store) CreateSAMLProvider(ctx context.Context, accountName, name, metadata string) (*model.SAMLProvider, error) {
	p := model.SAMLProvider{
		ARN:              model.SAMLProviderARN(accountName, name),
		Name:             name,
		AccountName:      accountName,
		MetadataDocument: metadata,
		CreatedAt:        s.now(),
	}

	err := s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "create_saml_provider", map[string]any{"account": accountName, "provider": name}, func() error {
		return s.client.Add(ctx, &s3ldap.AddRequest{
			DN: s.tree.SAMLProviderDN(accountName, name),
			Attributes: map[string][]string{
				attrObjectClass:  {classSAMLProvider},
				attrName:         {name},
				attrSAMLMetadata: {metadata},
			},
		})
	})
	if s3ldap.IsNotFoundError(err) {
		return nil, model.NotFound(model.KindAccount, accountName)
	}
	if err != nil {
		return nil, classify(model.KindSAMLProvider, name, err)
	}
	return &p, nil
}

// providerName resolves arn to a provider name of account. ARNs of other
// accounts are reported as not found.
func providerName(accountName, arn string) (string, error) {
	owner, name, err := model.ParseSAMLProviderARN(arn)
	if err != nil {
		return "", err
	}
	if owner != accountName {
		return "", model.NotFound(model.KindSAMLProvider, arn)
	}
	return name, nil
}

// DeleteSAMLProvider removes the provider identified by arn from account.
func (s *Store) DeleteSAMLProvider(ctx context.Context, accountName, arn string) error {
	name, err := providerName(accountName, arn)
	if err != nil {
		return err
	}

	err = s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "delete_saml_provider", map[string]any{"account": accountName, "provider": name}, func() error {
		return s.client.Delete(ctx, s.tree.SAMLProviderDN(accountName, name))
	})
	return classify(model.KindSAMLProvider, arn, err)
}

// UpdateSAMLProvider replaces the metadata document of the provider
// identified by arn.
func (s *Store) UpdateSAMLProvider(ctx context.Context, accountName, arn, metadata string) (*model.SAMLProvider, error) {
	name, err := providerName(accountName, arn)
	if err != nil {
		return nil, err
	}

	err = s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "update_saml_provider", map[string]any{"account": accountName, "provider": name}, func() error {
		return s.client.Modify(ctx, &s3ldap.ModifyRequest{
			DN:                s.tree.SAMLProviderDN(accountName, name),
			ReplaceAttributes: map[string][]string{attrSAMLMetadata: {metadata}},
		})
	})
	if err != nil {
		return nil, classify(model.KindSAMLProvider, arn, err)
	}

	return &model.SAMLProvider{
		ARN:              arn,
		Name:             name,
		AccountName:      accountName,
		MetadataDocument: metadata,
	}, nil
}

// ListSAMLProviders returns the providers of account ordered by name,
// without their metadata documents.
func (s *Store) ListSAMLProviders(ctx context.Context, accountName string) ([]model.SAMLProvider, error) {
	result, err := s.client.SearchWithPaging(ctx, &s3ldap.SearchRequest{
		BaseDN:     s.tree.IdPDN(accountName),
		Scope:      s3ldap.ScopeSingleLevel,
		Filter:     fmt.Sprintf("(%s=%s)", attrObjectClass, classSAMLProvider),
		Attributes: []string{attrName, attrCreateTimestamp},
	})
	if s3ldap.IsNotFoundError(err) {
		return nil, model.NotFound(model.KindAccount, accountName)
	}
	if err != nil {
		return nil, classify(model.KindSAMLProvider, "", err)
	}

	providers := make([]model.SAMLProvider, 0, len(result.Entries))
	for _, entry := range result.Entries {
		providers = append(providers, samlProviderFromEntry(entry, accountName))
	}
	sortByName(providers, func(p model.SAMLProvider) string { return p.Name })
	return providers, nil
}
