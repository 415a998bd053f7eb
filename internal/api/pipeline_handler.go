package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/shaiso/orderpipe/internal/source"
)

// multipartOverhead — запас на заголовки multipart сверх размера файла.
const multipartOverhead = 1 << 20

// TriggerPipeline создаёт run и отдаёт его workers.
// POST /api/v1/pipeline/trigger
//
// Принимает JSON {"source": "..."} или multipart с полем file.
// Загруженный файл сохраняется через Uploader, run получает ссылку на него.
func (h *Handler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	var (
		ref string
		ok  bool
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		ref, ok = h.saveUpload(w, r)
	} else {
		ref, ok = h.decodeTrigger(w, r)
	}
	if !ok {
		return
	}

	run, err := h.trigger.Trigger(r.Context(), ref)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, TriggerResponse{
		RunID:     run.ID,
		RunNumber: run.Number,
		Message:   fmt.Sprintf("Pipeline run #%d triggered", run.Number),
		File:      source.DisplayName(run.SourceRef),
	})
}

func (h *Handler) decodeTrigger(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return "", false
	}
	if err := req.Validate(); err != nil {
		BadRequest(w, err.Error())
		return "", false
	}
	return req.Source, true
}

func (h *Handler) saveUpload(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.uploader == nil {
		BadRequest(w, "file upload is not enabled")
		return "", false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.uploadMaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			TooLarge(w, fmt.Sprintf("file exceeds %d bytes", h.uploadMaxBytes))
			return "", false
		}
		BadRequest(w, "invalid multipart body")
		return "", false
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		BadRequest(w, "missing file field")
		return "", false
	}
	defer file.Close()

	if header.Size > h.uploadMaxBytes {
		TooLarge(w, fmt.Sprintf("file exceeds %d bytes", h.uploadMaxBytes))
		return "", false
	}

	ref, err := h.uploader.Save(r.Context(), header.Filename, file, header.Size)
	if HandleRepoError(w, h.logger, err, "") {
		return "", false
	}

	h.logger.Info("file uploaded", "file", header.Filename, "size", header.Size, "ref", ref)
	return ref, true
}
