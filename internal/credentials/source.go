package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	sourceSeparatorConstant                    = ":"
	environmentSourceTypeValueConstant         = "env"
	fileSourceTypeValueConstant                = "file"
	sourceMissingErrorMessageConstant          = "token source must be provided"
	environmentNameMissingErrorMessageConstant = "environment variable name must be provided"
	filePathMissingErrorMessageConstant        = "token file path must be provided"
	environmentTokenMissingTemplateConstant    = "environment variable %s is not set"
	fileReadErrorTemplateConstant              = "unable to read token file %s: %w"
	fileTokenEmptyErrorTemplateConstant        = "token file %s is empty"
	unsupportedSourceTemplateConstant          = "unsupported token source type %q"
)

// SourceType enumerates the supported token retrieval mechanisms.
type SourceType string

// Token source type enumerations.
const (
	SourceTypeEnvironment SourceType = SourceType(environmentSourceTypeValueConstant)
	SourceTypeFile        SourceType = SourceType(fileSourceTypeValueConstant)
)

// Source specifies where a credential token is read from.
type Source struct {
	Type      SourceType
	Reference string
}

// ParseSource interprets "env:NAME", "file:PATH", or a bare environment variable name.
func ParseSource(sourceValue string) (Source, error) {
	trimmedValue := strings.TrimSpace(sourceValue)
	if len(trimmedValue) == 0 {
		return Source{}, errors.New(sourceMissingErrorMessageConstant)
	}

	components := strings.SplitN(trimmedValue, sourceSeparatorConstant, 2)
	if len(components) == 1 {
		return Source{Type: SourceTypeEnvironment, Reference: trimmedValue}, nil
	}

	sourceType := strings.ToLower(strings.TrimSpace(components[0]))
	reference := strings.TrimSpace(components[1])

	switch sourceType {
	case environmentSourceTypeValueConstant:
		if len(reference) == 0 {
			return Source{}, errors.New(environmentNameMissingErrorMessageConstant)
		}
		return Source{Type: SourceTypeEnvironment, Reference: reference}, nil
	case fileSourceTypeValueConstant:
		if len(reference) == 0 {
			return Source{}, errors.New(filePathMissingErrorMessageConstant)
		}
		return Source{Type: SourceTypeFile, Reference: reference}, nil
	default:
		return Source{}, fmt.Errorf(unsupportedSourceTemplateConstant, sourceType)
	}
}

// EnvironmentLookup obtains an environment variable value.
type EnvironmentLookup func(key string) (string, bool)

// FileReader reads the contents of a file path.
type FileReader func(path string) ([]byte, error)

// Resolver reads credentials from the environment and from token files.
type Resolver struct {
	environmentLookup EnvironmentLookup
	fileReader        FileReader
}

// NewResolver creates a resolver; nil collaborators default to the process environment and os.ReadFile.
func NewResolver(environmentLookup EnvironmentLookup, fileReader FileReader) *Resolver {
	if environmentLookup == nil {
		environmentLookup = os.LookupEnv
	}
	if fileReader == nil {
		fileReader = os.ReadFile
	}
	return &Resolver{environmentLookup: environmentLookup, fileReader: fileReader}
}

// Resolve returns the trimmed token referenced by source.
func (resolver *Resolver) Resolve(source Source) (string, error) {
	switch source.Type {
	case SourceTypeEnvironment:
		value, found := resolver.lookup(source.Reference)
		if !found {
			return "", fmt.Errorf(environmentTokenMissingTemplateConstant, source.Reference)
		}
		return value, nil
	case SourceTypeFile:
		contents, readError := resolver.fileReader(source.Reference)
		if readError != nil {
			return "", fmt.Errorf(fileReadErrorTemplateConstant, source.Reference, readError)
		}
		trimmedValue := strings.TrimSpace(string(contents))
		if len(trimmedValue) == 0 {
			return "", fmt.Errorf(fileTokenEmptyErrorTemplateConstant, source.Reference)
		}
		return trimmedValue, nil
	default:
		return "", fmt.Errorf(unsupportedSourceTemplateConstant, source.Type)
	}
}

// lookup reports a non-empty, trimmed environment value.
func (resolver *Resolver) lookup(key string) (string, bool) {
	value, found := resolver.environmentLookup(key)
	if !found {
		return "", false
	}
	trimmedValue := strings.TrimSpace(value)
	return trimmedValue, len(trimmedValue) > 0
}
