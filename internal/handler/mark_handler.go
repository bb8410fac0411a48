package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
	"github.com/noah-isme/coaching-rank-api/pkg/response"
)

const bulkUploadField = "file"

type markService interface {
	AddMark(ctx context.Context, req models.AddMarkRequest) (*models.AddMarkResult, error)
	DeleteMark(ctx context.Context, id string) error
}

type bulkUploader interface {
	UploadFile(ctx context.Context, filename string, r io.Reader) (*models.BulkUploadResult, error)
}

// MarkHandler records exam results one at a time or from a spreadsheet.
type MarkHandler struct {
	marks    markService
	bulk     bulkUploader
	maxBytes int64
}

// NewMarkHandler constructs MarkHandler. maxBytes bounds bulk upload bodies.
func NewMarkHandler(marks markService, bulk bulkUploader, maxBytes int64) *MarkHandler {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &MarkHandler{marks: marks, bulk: bulk, maxBytes: maxBytes}
}

// Add godoc
// @Summary Record exam marks
// @Description Stores one exam sitting, rescoring the student and re-ranking everyone.
// @Tags Marks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.AddMarkRequest true "Exam record"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /marks [post]
func (h *MarkHandler) Add(c *gin.Context) {
	var req models.AddMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid mark payload"))
		return
	}
	result, err := h.marks.AddMark(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Delete godoc
// @Summary Delete exam record
// @Tags Marks
// @Security BearerAuth
// @Param id path string true "Record ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /marks/{id} [delete]
func (h *MarkHandler) Delete(c *gin.Context) {
	if err := h.marks.DeleteMark(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkUpload godoc
// @Summary Upload marks spreadsheet
// @Description Accepts .xlsx or .csv. Bad rows are reported and skipped, good rows are stored.
// @Tags Marks
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Spreadsheet"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /marks/bulk [post]
func (h *MarkHandler) BulkUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	header, err := c.FormFile(bulkUploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, "upload exceeds size limit"))
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrUnreadableInput.Code, appErrors.ErrUnreadableInput.Status, "uploaded file could not be opened"))
		return
	}
	defer file.Close()

	result, err := h.bulk.UploadFile(c.Request.Context(), header.Filename, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
