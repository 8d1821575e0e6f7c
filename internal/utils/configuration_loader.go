package utils

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configurationKeyDelimiterConstant               = "."
	environmentKeyDelimiterConstant                 = "_"
	environmentListSeparatorConstant                = ","
	configurationReadErrorTemplateConstant          = "failed to read configuration: %w"
	configurationUnmarshalErrorTemplateConstant     = "failed to parse configuration: %w"
	embeddedConfigurationMergeErrorTemplateConstant = "failed to merge embedded configuration: %w"
)

// ConfigurationLoader layers configuration sources through Viper. In increasing
// precedence: default values, the embedded document, a configuration file, and
// environment variables named PREFIX_SECTION_KEY.
type ConfigurationLoader struct {
	fileName          string
	fileType          string
	environmentPrefix string
	searchPaths       []string
	embeddedDocument  []byte
	embeddedType      string
}

// LoadedConfiguration surfaces metadata about the resolved configuration.
type LoadedConfiguration struct {
	ConfigFileUsed string
}

// NewConfigurationLoader creates a loader looking for fileName.fileType in searchPaths.
// Blank search paths are dropped.
func NewConfigurationLoader(fileName string, fileType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	loader := &ConfigurationLoader{
		fileName:          fileName,
		fileType:          fileType,
		environmentPrefix: environmentPrefix,
	}
	for _, searchPath := range searchPaths {
		if len(strings.TrimSpace(searchPath)) > 0 {
			loader.searchPaths = append(loader.searchPaths, searchPath)
		}
	}
	return loader
}

// SetEmbeddedConfiguration keeps a copy of a bundled document merged beneath any file.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(document []byte, documentType string) {
	if loader == nil {
		return
	}
	loader.embeddedType = strings.TrimSpace(documentType)
	loader.embeddedDocument = nil
	if len(document) > 0 {
		loader.embeddedDocument = append([]byte(nil), document...)
	}
}

// LoadConfiguration decodes every layer into targetConfiguration. An explicit
// configurationFilePath must exist; otherwise a missing file in the search paths is
// not an error. Durations accept Go duration strings and environment lists accept
// comma-separated items.
func (loader *ConfigurationLoader) LoadConfiguration(configurationFilePath string, defaultValues map[string]any, targetConfiguration any) (LoadedConfiguration, error) {
	viperInstance, embeddedError := loader.newViperInstance(defaultValues)
	if embeddedError != nil {
		return LoadedConfiguration{}, embeddedError
	}

	if len(configurationFilePath) > 0 {
		viperInstance.SetConfigFile(configurationFilePath)
	}
	if readError := viperInstance.MergeInConfig(); readError != nil {
		var notFoundError viper.ConfigFileNotFoundError
		if !errors.As(readError, &notFoundError) {
			return LoadedConfiguration{}, fmt.Errorf(configurationReadErrorTemplateConstant, readError)
		}
	}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(environmentListSeparatorConstant),
	))
	if unmarshalError := viperInstance.Unmarshal(targetConfiguration, decodeHook); unmarshalError != nil {
		return LoadedConfiguration{}, fmt.Errorf(configurationUnmarshalErrorTemplateConstant, unmarshalError)
	}

	return LoadedConfiguration{ConfigFileUsed: viperInstance.ConfigFileUsed()}, nil
}

func (loader *ConfigurationLoader) newViperInstance(defaultValues map[string]any) (*viper.Viper, error) {
	viperInstance := viper.New()
	for defaultKey, defaultValue := range defaultValues {
		viperInstance.SetDefault(defaultKey, defaultValue)
	}

	if len(loader.embeddedDocument) > 0 {
		embeddedType := loader.embeddedType
		if len(embeddedType) == 0 {
			embeddedType = loader.fileType
		}
		viperInstance.SetConfigType(embeddedType)
		if mergeError := viperInstance.MergeConfig(bytes.NewReader(loader.embeddedDocument)); mergeError != nil {
			return nil, fmt.Errorf(embeddedConfigurationMergeErrorTemplateConstant, mergeError)
		}
	}

	viperInstance.SetConfigName(loader.fileName)
	viperInstance.SetConfigType(loader.fileType)
	for _, searchPath := range loader.searchPaths {
		viperInstance.AddConfigPath(searchPath)
	}

	viperInstance.SetEnvPrefix(loader.environmentPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(configurationKeyDelimiterConstant, environmentKeyDelimiterConstant))
	viperInstance.AutomaticEnv()
	return viperInstance, nil
}
