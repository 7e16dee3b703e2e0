// Package bus implements the publish/subscribe transport named in spec §6:
// a one-way viewer_channel carrying completed transactions as JSON, a
// request/reply events_channel for replay triggers, and a file-backed
// variant used both to record and to replay traffic offline.
package bus

import (
	"github.com/denisvmedia/relaymitm/httpmsg"
)

// ViewerContext is the publishable, immutable-after-publish snapshot of
// one completed HTTP transaction, matching the wire schema in spec.md §6
// exactly (Request/Response already implement that schema's nested
// object via their own MarshalJSON/UnmarshalJSON).
type ViewerContext struct {
	Scheme   string            `json:"scheme"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Path     string            `json:"path"`
	Request  *httpmsg.Request  `json:"request"`
	Response *httpmsg.Response `json:"response"`
}
