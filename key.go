package tablesession

// KeyFunc normalizes a session id into a storage key. It must be stable: the
// same id always yields the same key.
type KeyFunc func(id string) string

// SanitizeKey keeps only ASCII letters and digits. The result is safe as a
// row key, a redis key segment and a SQL value on every bundled backend.
func SanitizeKey(id string) string {
	buf := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			buf = append(buf, c)
		}
	}
	return string(buf)
}
