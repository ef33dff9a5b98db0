package domain

import (
	"fmt"
	"sort"
	"strings"
)

const (
	FilterCollection     = "collection"
	FilterMetadataPrefix = "metadata."
)

// FilterField maps a caller filter key to the indexed attribute. "collection"
// and keys already under "metadata." are kept; any other key, including names
// of top-level chunk fields such as "title", addresses metadata.<key>.
func FilterField(key string) string {
	if key == FilterCollection || strings.HasPrefix(key, FilterMetadataPrefix) {
		return key
	}
	return FilterMetadataPrefix + key
}

// ValidateFilters rejects keys that are blank or name a dotted path outside metadata.
func ValidateFilters(filters map[string][]any) error {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch {
		case strings.TrimSpace(key) == "" || strings.TrimSpace(key) != key:
			return WrapError(ErrInvalidInput, "validate filters", fmt.Errorf("invalid filter key %q", key))
		case key == FilterCollection:
		case strings.HasPrefix(key, FilterMetadataPrefix):
			if strings.TrimPrefix(key, FilterMetadataPrefix) == "" {
				return WrapError(ErrInvalidInput, "validate filters", fmt.Errorf("invalid filter key %q", key))
			}
		case strings.Contains(key, "."):
			return WrapError(ErrInvalidInput, "validate filters", fmt.Errorf("filter key %q must be a metadata field", key))
		}
	}
	return nil
}
