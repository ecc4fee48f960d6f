package ember

import "bytes"

// prefetchPage is a no-op: the engine has no assembly-backed prefetch
// implementation (see DESIGN.md on the removal of search_amd64.go).
func prefetchPage(data []byte) {}

// getKeyAndCompareAsm extracts the key at idx from page and compares it
// with searchKey. Named "Asm" for API continuity with callers, but this
// is the only implementation now - SIMD search is an optional
// optimization, not a correctness requirement, and was never backed by
// a real assembly file in the first place.
func getKeyAndCompareAsm(pageData []byte, idx int, searchKey []byte) int {
	// Get entry offset: stored at pageData[20 + idx*2] as uint16, add 20 for actual offset
	offsetPos := 20 + idx*2
	storedOffset := uint16(pageData[offsetPos]) | uint16(pageData[offsetPos+1])<<8
	offset := int(storedOffset) + 20

	// Get key size from node header at offset+6
	keySize := int(uint16(pageData[offset+6]) | uint16(pageData[offset+7])<<8)

	// Extract key bytes
	keyStart := offset + 8 // nodeSize = 8
	nodeKey := pageData[keyStart : keyStart+keySize]

	// Compare searchKey with nodeKey
	return bytes.Compare(searchKey, nodeKey)
}

// compareKeysAsm compares two keys lexicographically.
func compareKeysAsm(a, b []byte) int {
	return bytes.Compare(a, b)
}

// searchPageAsm signals the caller to use the portable Go binary-search path.
func searchPageAsm(pageData []byte, key []byte, isBranch bool) int {
	return -1 // Signal to use Go implementation
}

// binarySearchLeaf8 signals the caller to use the portable Go binary-search path.
func binarySearchLeaf8(pageData []byte, key uint64, n int) int {
	return -1 // Signal to use Go implementation
}

// binarySearchBranch8 signals the caller to use the portable Go binary-search path.
func binarySearchBranch8(pageData []byte, key uint64, n int) int {
	return -1 // Signal to use Go implementation
}
