package badger

// Database Key Namespace
// ======================
//
// Data Type        Prefix   Key Format          Value Type
// ==========================================================
// Entry Records    "r:"     r:<managed path>    record (CBOR)
// Index Metadata   "m:"     m:version           uint (CBOR)
//
// Record keys sort in managed-path order, so a prefix scan over
// "r:<dir>/" returns the subtree in the same order the file walk uses.

const (
	// prefixRecord is the key prefix for entry records
	prefixRecord = "r:"

	// keySchemaVersion stores the record layout version
	keySchemaVersion = "m:version"

	// schemaVersion is the current record layout
	schemaVersion = 1
)

// keyRecord generates the key for a managed path's record.
func keyRecord(path string) []byte {
	return []byte(prefixRecord + path)
}

// keyRecordPrefix generates the scan prefix for records below pathPrefix.
func keyRecordPrefix(pathPrefix string) []byte {
	return []byte(prefixRecord + pathPrefix)
}

// pathFromKey strips the record prefix from a database key.
func pathFromKey(key []byte) string {
	return string(key[len(prefixRecord):])
}
