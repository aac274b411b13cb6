package core

import "github.com/rs/xid"

// NewConnID returns a sortable, process-unique connection id.
func NewConnID() string {
	return xid.New().String()
}
