package cloud

// Typed views of the object-store API responses, validated at the
// boundary instead of trusted structurally.

// FileMetadata describes one remote file.
type FileMetadata struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Parents []string `json:"parents,omitempty"`
}

// FileList is the response to a file query.
type FileList struct {
	Files []FileMetadata `json:"files"`
}

// ErrorResponse is the API's error envelope, decoded for logging before
// the session is discarded.
type ErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SaveEntry is the battery-backup payload for one title. A title with no
// remote save yields an entry with empty Data.
type SaveEntry struct {
	GameName string `json:"gameName"`
	Data     []byte `json:"data,omitempty"`
}
