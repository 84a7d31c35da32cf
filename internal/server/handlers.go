package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/adverant/nexus/faceredact-engine/internal/clients"
	apperrors "github.com/adverant/nexus/faceredact-engine/internal/errors"
	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
	"github.com/adverant/nexus/faceredact-engine/internal/processor"
)

const (
	imageField      = "imagen"
	rectanglesField = "rectangulos"
	debugField      = "debug"
	requestIDHeader = "X-Request-ID"
)

var pixelateExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// handleProcess runs the redaction pipeline on one uploaded image
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(requestIDHeader, requestID)

	upload, perr := s.readUpload(w, r)
	if perr != nil {
		s.respondPipelineError(w, perr.WithRequestID(requestID))
		return
	}

	debug, err := parseDebug(r)
	if err != nil {
		s.respondPipelineError(w, apperrors.NewValidationError("debug must be a boolean", err).WithRequestID(requestID))
		return
	}

	result, err := s.processor.Process(r.Context(), &processor.Request{
		RequestID:   requestID,
		Filename:    upload.filename,
		ContentType: upload.contentType,
		ImageData:   upload.data,
		Mode:        processor.ModeFromDebug(debug),
	})
	if err != nil {
		s.respondPipelineError(w, apperrors.AsPipelineError(err))
		return
	}

	w.Header().Set("X-Faces-Detected", strconv.Itoa(len(result.Faces)))
	w.Header().Set("X-Faces-Redacted", strconv.Itoa(len(result.RegionsApplied)))
	respondImage(w, result.ContentType, result.Body)
}

// handlePixelate pixelates caller-supplied rectangles in-process
func (s *Server) handlePixelate(w http.ResponseWriter, r *http.Request) {
	upload, perr := s.readUpload(w, r)
	if perr != nil {
		s.respondPipelineError(w, perr)
		return
	}

	if upload.filename == "" {
		s.respondPipelineError(w, apperrors.NewValidationError("The uploaded file has no name", nil))
		return
	}
	if !pixelateExtensions[strings.ToLower(filepath.Ext(upload.filename))] {
		s.respondPipelineError(w, apperrors.NewValidationError("File type not allowed. Use PNG, JPG or JPEG", nil))
		return
	}

	img, err := imaging.DecodeLimit(upload.data, s.config.MaxPixels)
	if err != nil {
		s.respondPipelineError(w, apperrors.NewDecodeError(err))
		return
	}

	raw, ok := r.MultipartForm.Value[rectanglesField]
	if !ok || len(raw) == 0 {
		s.respondPipelineError(w, apperrors.NewValidationError(
			fmt.Sprintf("Rectangles must be provided in the '%s' field", rectanglesField), nil))
		return
	}

	regions, err := clients.DecodeRectangles([]byte(raw[0]))
	if err != nil {
		s.respondPipelineError(w, apperrors.NewValidationError("Invalid rectangles", err))
		return
	}

	imaging.Pixelate(img, regions)

	body, err := img.EncodeJPEG(s.config.JPEGQuality)
	if err != nil {
		s.respondPipelineError(w, apperrors.NewInternalError("render", err))
		return
	}
	respondImage(w, "image/jpeg", body)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"message": "Face redaction engine operational"}, http.StatusOK)
}

type upload struct {
	filename    string
	contentType string
	data        []byte
}

// readUpload parses the multipart body and reads the image field
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, *apperrors.PipelineError) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)

	if err := r.ParseMultipartForm(s.config.MaxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("Upload exceeds the %d byte limit", s.config.MaxUploadSize), err)
		}
		return nil, apperrors.NewValidationError("Failed to parse multipart form", err)
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		return nil, apperrors.NewValidationError("No image was provided", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to read uploaded image", err)
	}

	return &upload{
		filename:    header.Filename,
		contentType: header.Header.Get("Content-Type"),
		data:        data,
	}, nil
}

// parseDebug reads the debug flag from the form, falling back to the query string
func parseDebug(r *http.Request) (bool, error) {
	value := ""
	if r.MultipartForm != nil {
		if vals := r.MultipartForm.Value[debugField]; len(vals) > 0 {
			value = vals[0]
		}
	}
	if value == "" {
		value = r.URL.Query().Get(debugField)
	}
	if value == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(value))
}

func (s *Server) respondPipelineError(w http.ResponseWriter, err *apperrors.PipelineError) {
	if !apperrors.IsClientError(err) {
		s.logger.Error("Request failed", "stage", err.Stage, "request_id", err.RequestID, "error", err)
	} else {
		s.logger.Debug("Request rejected", "stage", err.Stage, "error", err)
	}
	respondJSON(w, err.Response(), err.StatusCode())
}

func respondImage(w http.ResponseWriter, contentType string, body []byte) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
