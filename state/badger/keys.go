package badger

import "fmt"

// Key prefixes for different data types
const (
	revisionPrefix = "rev"
	cursorSuffix   = "chkpt"
)

// makeRevisionKey generates the key holding a file's last processed revision.
func makeRevisionKey(fileID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", revisionPrefix, fileID))
}

// makeCursorKey generates the key holding a named page cursor.
func makeCursorKey(name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", name, cursorSuffix))
}
