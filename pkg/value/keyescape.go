package value

import "strings"

// escapeKey applies the invertible key-escape transform: any key starting
// with "_" gains one extra leading underscore, so the literal placeholder
// keys "_b"/"_s" can never collide with a user-supplied key after escaping.
func escapeKey(key string) string {
	if strings.HasPrefix(key, "_") {
		return "_" + key
	}
	return key
}

// unescapeKey reverses escapeKey.
func unescapeKey(key string) string {
	if strings.HasPrefix(key, "__") {
		return key[1:]
	}
	return key
}
