package server

import (
	"github.com/ripkitten-co/sitefeed/broadcast"
	"github.com/ripkitten-co/sitefeed/internal/codecs"
	"github.com/ripkitten-co/sitefeed/jobsites"
)

// fragment is the default outbound shape on the live channel: one message per
// change, addressed to the originating jobsite. Clients key their DOM/state
// updates on jobsite_id.
type fragment struct {
	JobsiteID string `json:"jobsite_id"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
}

// JSONRenderer renders live updates as JSON fragments. Swap in a template
// renderer to serve HTML-over-the-wire clients instead.
type JSONRenderer struct {
	codec codecs.Codec
}

func NewJSONRenderer(codec codecs.Codec) *JSONRenderer {
	return &JSONRenderer{codec: codec}
}

func (r *JSONRenderer) Render(kind broadcast.Kind, js jobsites.Jobsite) ([]byte, error) {
	return r.codec.Marshal(fragment{
		JobsiteID: js.ID.String(),
		Kind:      string(kind),
		Name:      js.Name,
	})
}
