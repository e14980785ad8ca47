package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/xenking/commerce-core/internal/domain"
)

func (h *Handler) completeLesson(w http.ResponseWriter, r *http.Request) {
	var body userBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.UserID == "" {
		writeError(w, r, domain.Invalid("userId", "required"))
		return
	}

	res, err := h.enrollments.CompleteLesson(r.Context(), body.UserID, r.PathValue("id"), r.PathValue("lesson"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("completed")
	e.Int(res.Completed)
	e.FieldStart("total")
	e.Int(res.Total)
	if c := res.Certificate; c != nil {
		e.FieldStart("certificate")
		e.ObjStart()
		encStr(&e, "id", c.ID)
		encTime(&e, "issuedAt", &c.IssuedAt)
		e.ObjEnd()
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) certificateQR(w http.ResponseWriter, r *http.Request) {
	size := h.cfg.QRSize
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 64 || n > 2048 {
			writeError(w, r, domain.Invalid("size", "must be between 64 and 2048"))
			return
		}
		size = n
	}

	png, err := h.enrollments.CertificateQR(r.Context(), r.PathValue("id"), size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
