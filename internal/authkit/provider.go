package authkit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProviderProfile is the normalized shape of one provider login, before the
// identity record is upserted.
type ProviderProfile struct {
	Provider    string
	ProviderID  string
	Email       string
	DisplayName string
	AvatarURL   string
}

// AttributeExtractor pulls the normalized profile fields out of one
// provider's raw attribute payload.
type AttributeExtractor func(attributes map[string]any) ProviderProfile

// ExtractorRegistry dispatches attribute extraction by case-insensitive
// provider name. Adding a provider means one Register call, never a change
// to the dispatcher.
type ExtractorRegistry struct {
	extractors map[string]AttributeExtractor
}

// NewExtractorRegistry constructs a registry with the built-in github and
// google variants registered.
func NewExtractorRegistry() *ExtractorRegistry {
	registry := &ExtractorRegistry{extractors: make(map[string]AttributeExtractor)}
	registry.Register("github", extractGithubProfile)
	registry.Register("google", extractGoogleProfile)
	return registry
}

// Register binds an extractor to a provider name, replacing any prior binding.
func (registry *ExtractorRegistry) Register(providerName string, extractor AttributeExtractor) {
	registry.extractors[strings.ToLower(providerName)] = extractor
}

// Extract normalizes the raw attributes of the named provider. An
// unregistered provider name is a hard failure; a payload without an email is
// not the extractor's error and is surfaced by the login boundary instead.
func (registry *ExtractorRegistry) Extract(providerName string, attributes map[string]any) (ProviderProfile, error) {
	extractor, ok := registry.extractors[strings.ToLower(providerName)]
	if !ok {
		return ProviderProfile{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerName)
	}
	return extractor(attributes), nil
}

func extractGithubProfile(attributes map[string]any) ProviderProfile {
	return ProviderProfile{
		Provider:    "github",
		ProviderID:  attributeString(attributes, "id"),
		// email may be empty depending on the user's privacy settings
		Email:       attributeString(attributes, "email"),
		DisplayName: attributeString(attributes, "name"),
		AvatarURL:   attributeString(attributes, "avatar_url"),
	}
}

func extractGoogleProfile(attributes map[string]any) ProviderProfile {
	return ProviderProfile{
		Provider:    "google",
		ProviderID:  attributeString(attributes, "sub"),
		Email:       attributeString(attributes, "email"),
		DisplayName: attributeString(attributes, "name"),
		AvatarURL:   attributeString(attributes, "picture"),
	}
}

// attributeString stringifies one attribute value. JSON decoding yields
// float64 for numeric identifiers such as the GitHub user id.
func attributeString(attributes map[string]any, key string) string {
	raw, ok := attributes[key]
	if !ok || raw == nil {
		return ""
	}
	switch value := raw.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatInt(int64(value), 10)
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprintf("%v", value)
	}
}
