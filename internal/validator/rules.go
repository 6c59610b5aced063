package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/isometry/s3-authserver/internal/model"
)

const (
	MaxNameLength = 64
	MaxPathLength = 512
	MinMaxItems   = 1
	MaxMaxItems   = 1000
)

var (
	namePattern       = regexp.MustCompile(`^[\w+=,.@-]+$`)
	pathPattern       = regexp.MustCompile(`^(/|/[\x21-\x7E]+/)$`)
	pathPrefixPattern = regexp.MustCompile(`^/[\x21-\x7E]*$`)
)

// IsValidName reports whether name is a valid IAM entity name.
func IsValidName(name string) bool {
	return len(name) >= 1 && len(name) <= MaxNameLength && namePattern.MatchString(name)
}

// IsValidPath reports whether path is "/" or a slash-delimited path.
func IsValidPath(path string) bool {
	return len(path) >= 1 && len(path) <= MaxPathLength && pathPattern.MatchString(path)
}

// IsValidPathPrefix reports whether prefix is a valid listing filter.
func IsValidPathPrefix(prefix string) bool {
	return len(prefix) >= 1 && len(prefix) <= MaxPathLength && pathPrefixPattern.MatchString(prefix)
}

// IsValidMaxItems reports whether n is within the page size bound.
func IsValidMaxItems(n int) bool {
	return n >= MinMaxItems && n <= MaxMaxItems
}

// IsValidMarker reports whether n is a usable listing offset.
func IsValidMarker(n int) bool {
	return n >= 0
}

// IsValidSAMLMetadata reports whether doc has an acceptable character count.
func IsValidSAMLMetadata(doc string) bool {
	n := utf8.RuneCountInString(doc)
	return n >= model.MinSAMLMetadataLength && n <= model.MaxSAMLMetadataLength
}

// The helpers below build the per-operation rules in operations.go.

func required(fields map[string]string, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == "" {
		return "", &model.ValidationError{Field: key, Reason: "required"}
	}
	return v, nil
}

func present(fields map[string]string, key string) error {
	if _, ok := fields[key]; !ok {
		return &model.ValidationError{Field: key, Reason: "required"}
	}
	return nil
}

func requireName(fields map[string]string, key string) error {
	v, err := required(fields, key)
	if err != nil {
		return err
	}
	if !IsValidName(v) {
		return &model.ValidationError{Field: key, Reason: fmt.Sprintf("must match %s and be at most %d characters", namePattern, MaxNameLength)}
	}
	return nil
}

func optionalName(fields map[string]string, key string) error {
	if _, ok := fields[key]; !ok {
		return nil
	}
	return requireName(fields, key)
}

func optionalPath(fields map[string]string, key string) error {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	if !IsValidPath(v) {
		return &model.ValidationError{Field: key, Reason: "must be / or begin and end with /"}
	}
	return nil
}

func optionalPathPrefix(fields map[string]string, key string) error {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	if !IsValidPathPrefix(v) {
		return &model.ValidationError{Field: key, Reason: "must begin with /"}
	}
	return nil
}

// optionalInt parses then checks; a value that does not parse is a
// validation failure.
func optionalInt(fields map[string]string, key string, check func(int) bool) error {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &model.ValidationError{Field: key, Reason: "must be an integer"}
	}
	if !check(n) {
		return &model.ValidationError{Field: key, Reason: "out of range"}
	}
	return nil
}

func requireSAMLMetadata(fields map[string]string, key string) error {
	v, ok := fields[key]
	if !ok {
		return &model.ValidationError{Field: key, Reason: "required"}
	}
	if !IsValidSAMLMetadata(v) {
		return &model.ValidationError{
			Field:  key,
			Reason: fmt.Sprintf("length must be between %d and %d characters", model.MinSAMLMetadataLength, model.MaxSAMLMetadataLength),
		}
	}
	return nil
}

func requireStatus(fields map[string]string, key string) error {
	v, err := required(fields, key)
	if err != nil {
		return err
	}
	if !model.AccessKeyStatus(v).Valid() {
		return &model.ValidationError{Field: key, Reason: "must be Active or Inactive"}
	}
	return nil
}
