package types

// File is one regular file extracted from an uploaded archive.
// Path is relative to the application root inside the guest.
type File struct {
	Path    string
	Content []byte
}

// Bundle is the ordered list of files of an upload. Directory entries
// are never present.
type Bundle []File

// Size returns the total content size in bytes.
func (b Bundle) Size() int64 {
	var n int64
	for _, f := range b {
		n += int64(len(f.Content))
	}
	return n
}
