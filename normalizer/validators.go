package normalizer

import (
	"regexp"
	"strings"
)

const (
	NamespaceNameMaxLength = 64
	NamespaceMaxDepth      = 3
	DurationMinDays        = 30
	DurationMaxDays        = 1825
	BlockTargetSeconds     = 30
	MetadataKeyMaxBytes    = 256
	MetadataValueMaxBytes  = 1024
)

var namespaceNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateNamespaceName checks a single namespace level name.
func ValidateNamespaceName(name string) error {
	switch {
	case name == "":
		return invalid("namespace", "name is empty")
	case len(name) > NamespaceNameMaxLength:
		return invalid("namespace", "name %q is longer than %d characters", name, NamespaceNameMaxLength)
	case !namespaceNamePattern.MatchString(name):
		return invalid("namespace", "name %q may contain only lower case letters, digits, '_' and '-'", name)
	case strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-"):
		return invalid("namespace", "name %q cannot start or end with '-'", name)
	}
	return nil
}

// ValidateFullNamespaceName checks dotted namespace path like "root.sub.leaf" and returns its levels.
func ValidateFullNamespaceName(full string) ([]string, error) {
	full = strings.ToLower(strings.TrimSpace(full))
	if full == "" {
		return nil, invalid("namespace", "name is empty")
	}
	parts := strings.Split(full, ".")
	if len(parts) > NamespaceMaxDepth {
		return nil, invalid("namespace", "%q has %d levels, at most %d are allowed", full, len(parts), NamespaceMaxDepth)
	}
	for _, p := range parts {
		if err := ValidateNamespaceName(p); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// ValidateDuration checks the rental duration in days and converts it in to blocks.
func ValidateDuration(days int) (uint64, error) {
	if days < DurationMinDays || days > DurationMaxDays {
		return 0, invalid("duration", "duration must be between %d and %d days, got %d", DurationMinDays, DurationMaxDays, days)
	}
	return DaysToBlocks(days), nil
}

// DaysToBlocks converts days in to the number of blocks.
func DaysToBlocks(days int) uint64 {
	return uint64(days) * 86400 / BlockTargetSeconds
}

// ValidateMetadataKey checks metadata key name.
func ValidateMetadataKey(key string) error {
	if key == "" {
		return invalid("metadata_key", "key is empty")
	}
	if len(key) > MetadataKeyMaxBytes {
		return invalid("metadata_key", "key is longer than %d bytes", MetadataKeyMaxBytes)
	}
	return nil
}

// ValidateMetadataValue checks metadata value.
func ValidateMetadataValue(value string) error {
	if value == "" {
		return invalid("metadata_value", "value is empty")
	}
	if len(value) > MetadataValueMaxBytes {
		return invalid("metadata_value", "value is longer than %d bytes", MetadataValueMaxBytes)
	}
	return nil
}
