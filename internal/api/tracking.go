package api

import (
	"context"
	"net/http"
)

// transparentGIF is a 1x1 transparent GIF89a.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00,
	0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02,
	0x44, 0x01, 0x00, 0x3b,
}

// Beacon records engagement from tracking requests without holding up the
// response.
type Beacon interface {
	RecordOpen(ctx context.Context, subscriptionID string)
	RecordClick(ctx context.Context, subscriptionID, rawTarget string) (string, error)
}

type TrackingHandler struct {
	beacon Beacon
}

func NewTrackingHandler(beacon Beacon) *TrackingHandler {
	return &TrackingHandler{beacon: beacon}
}

// Open always serves the pixel; the recipient never sees tracking errors.
func (h *TrackingHandler) Open(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(transparentGIF)

	h.beacon.RecordOpen(r.Context(), r.URL.Query().Get("sid"))
}

func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := h.beacon.RecordClick(r.Context(), q.Get("sid"), q.Get("url"))
	if err != nil {
		if !writeValidation(w, err) {
			respondError(w, http.StatusBadRequest, "invalid redirect target")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}
