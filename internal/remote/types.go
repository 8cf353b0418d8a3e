package remote

import "time"

// Entry is the wire form of a journal entry. Content is the encrypted blob;
// IV is the GCM nonce it was sealed with. The JSON encoding carries both as
// base64.
type Entry struct {
	UserID     string    `json:"user_id"`
	Day        string    `json:"day"`
	Content    []byte    `json:"content"`
	IV         []byte    `json:"iv"`
	Revision   int64     `json:"revision"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// EntryHead is one element of the entries index: enough to diff a local
// cache against the remote set without fetching content.
type EntryHead struct {
	Day      string `json:"day"`
	Revision int64  `json:"revision"`
}

// Tag is the wire form of a tag.
type Tag struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	Revision   int64     `json:"revision"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// EntryTag is the wire form of a day-tag link.
type EntryTag struct {
	UserID     string    `json:"user_id"`
	Day        string    `json:"day"`
	TagID      string    `json:"tag_id"`
	OrderNo    int       `json:"order_no"`
	Revision   int64     `json:"revision"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// KeyResponse is the body of the key-issuance endpoint.
type KeyResponse struct {
	Key []byte `json:"key"`
}
