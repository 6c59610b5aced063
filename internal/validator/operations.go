// Package validator checks request parameters against IAM naming and
// paging rules before any authentication or directory work happens.
package validator

import (
	"errors"
	"fmt"

	"github.com/isometry/s3-authserver/internal/model"
)

// Verb is the kind of operation applied to an entity.
type Verb int

const (
	VerbCreate Verb = iota + 1
	VerbDelete
	VerbUpdate
	VerbList
)

func (v Verb) String() string {
	switch v {
	case VerbCreate:
		return "create"
	case VerbDelete:
		return "delete"
	case VerbUpdate:
		return "update"
	case VerbList:
		return "list"
	default:
		return fmt.Sprintf("verb(%d)", int(v))
	}
}

// Operation keys the rule table.
type Operation struct {
	Kind model.Kind
	Verb Verb
}

func (o Operation) String() string {
	return o.Verb.String() + " " + o.Kind.String()
}

// Rule checks a request field map. The first failing check is returned.
type Rule func(fields map[string]string) error

// ErrUnknownOperation is returned for operations with no rule.
var ErrUnknownOperation = errors.New("unknown operation")

// Validator dispatches request fields to the rule registered for an
// operation. It is immutable after construction.
type Validator struct {
	rules map[Operation]Rule
}

// New returns a Validator loaded with the IAM rule table.
func New() *Validator {
	return &Validator{rules: map[Operation]Rule{
		{model.KindAccount, VerbCreate}: all(name("AccountName")),
		{model.KindAccount, VerbDelete}: all(name("AccountName")),
		{model.KindAccount, VerbList}:   all(),

		{model.KindUser, VerbCreate}: all(name("UserName"), path("Path")),
		{model.KindUser, VerbDelete}: all(name("UserName")),
		{model.KindUser, VerbUpdate}: all(name("UserName"), optName("NewUserName"), path("NewPath")),
		{model.KindUser, VerbList}:   all(pathPrefix("PathPrefix"), maxItems("MaxItems"), marker("Marker")),

		{model.KindAccessKey, VerbCreate}: all(optName("UserName")),
		{model.KindAccessKey, VerbDelete}: all(optName("UserName"), requiredKey("AccessKeyId")),
		{model.KindAccessKey, VerbUpdate}: all(optName("UserName"), requiredKey("AccessKeyId"), status("Status")),
		{model.KindAccessKey, VerbList}:   all(optName("UserName"), maxItems("MaxItems"), marker("Marker")),

		{model.KindSAMLProvider, VerbCreate}: all(name("Name"), samlMetadata("SAMLMetadataDocument")),
		{model.KindSAMLProvider, VerbDelete}: all(presentKey("SAMLProviderArn")),
		{model.KindSAMLProvider, VerbUpdate}: all(samlMetadata("SAMLMetadataDocument"), presentKey("SAMLProviderArn")),
		{model.KindSAMLProvider, VerbList}:   all(),
	}}
}

// Validate reports whether fields satisfy the rule for op.
func (v *Validator) Validate(op Operation, fields map[string]string) bool {
	return v.Check(op, fields) == nil
}

// Check returns the first rule violation for op, or nil.
func (v *Validator) Check(op Operation, fields map[string]string) error {
	rule, ok := v.rules[op]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	return rule(fields)
}

func all(rules ...Rule) Rule {
	return func(fields map[string]string) error {
		for _, r := range rules {
			if err := r(fields); err != nil {
				return err
			}
		}
		return nil
	}
}

func name(key string) Rule {
	return func(f map[string]string) error { return requireName(f, key) }
}

func optName(key string) Rule {
	return func(f map[string]string) error { return optionalName(f, key) }
}

func path(key string) Rule {
	return func(f map[string]string) error { return optionalPath(f, key) }
}

func pathPrefix(key string) Rule {
	return func(f map[string]string) error { return optionalPathPrefix(f, key) }
}

func maxItems(key string) Rule {
	return func(f map[string]string) error { return optionalInt(f, key, IsValidMaxItems) }
}

func marker(key string) Rule {
	return func(f map[string]string) error { return optionalInt(f, key, IsValidMarker) }
}

func requiredKey(key string) Rule {
	return func(f map[string]string) error {
		_, err := required(f, key)
		return err
	}
}

func presentKey(key string) Rule {
	return func(f map[string]string) error { return present(f, key) }
}

func samlMetadata(key string) Rule {
	return func(f map[string]string) error { return requireSAMLMetadata(f, key) }
}

func status(key string) Rule {
	return func(f map[string]string) error { return requireStatus(f, key) }
}
