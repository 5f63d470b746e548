package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	v1 "slidecast/internal/contracts/render/v1"
	"slidecast/internal/httpkit"
	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/middleware"
	"slidecast/internal/worker/processor"
)

// PostRender renders the posted slides and streams the mp4 back. Nothing
// touches disk or network until the request has been validated.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var req v1.RenderRequest
	if err := httpkit.DecodeJSON(w, r, &req); err != nil {
		return decodeError(err)
	}

	nreq, err := processor.Normalize(req, h.limits)
	if err != nil {
		return err
	}

	var out *processor.Output
	err = h.pool.Do(ctx, func(ctx context.Context) error {
		var rerr error
		out, rerr = h.renderer.Render(ctx, nreq)
		return rerr
	})
	if err != nil {
		if errors.IsCode(err, errors.CodeBusy) && h.onRejected != nil {
			h.onRejected()
		}
		if jobID, ok := errors.GetFields(err)["job_id"].(string); ok {
			w.Header().Set(middleware.JobIDHeader, jobID)
		}
		return err
	}

	w.Header().Set("Content-Type", v1.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(out.Size, 10))
	w.Header().Set(middleware.JobIDHeader, out.JobID)
	w.WriteHeader(http.StatusOK)

	n, err := out.Stream(ctx, w)
	if err != nil {
		// Headers are gone; the client sees a short body.
		h.log.FromContext(ctx).Warn("render stream interrupted",
			"job_id", out.JobID,
			"written", n,
			"size", out.Size,
			"error", err.Error(),
		)
	}
	return nil
}

// decodeError maps body decoding failures onto validation errors. A body
// whose slides field is missing or not an array is reported exactly like an
// empty slides list.
func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return errors.ValidationField("slides", v1.ErrSlidesRequired)
	case errors.As(err, &typeErr) && typeErr.Field == "slides":
		return errors.ValidationField("slides", v1.ErrSlidesRequired)
	case errors.As(err, &typeErr):
		return errors.ValidationField(typeErr.Field,
			fmt.Sprintf("%s must be %s, got %s", typeErr.Field, typeErr.Type.String(), typeErr.Value))
	case errors.As(err, &maxErr):
		return errors.Validation(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
	default:
		return errors.Validation("malformed JSON body: " + err.Error())
	}
}
