package document

import (
	"context"
	"net/http"
	"time"

	"github.com/opentranslator/client/internal/apperrors"
	"github.com/opentranslator/client/internal/httpclient"
)

const exportTimeout = 60 * time.Second

// ExportRequest carries the translated text and its destination options
type ExportRequest struct {
	Text              string `json:"text"`
	FileName          string `json:"fileName"`
	SaveToGoogleDrive bool   `json:"saveToGoogleDrive,omitempty"`
	FolderID          string `json:"folderId,omitempty"`
	CreateFolder      bool   `json:"createFolder,omitempty"`
	FolderName        string `json:"folderName,omitempty"`
}

// ExportedFile is a rendered document returned for local download
type ExportedFile struct {
	Data        []byte
	ContentType string
	FileName    string
}

// DriveFile describes a document saved to the user's cloud drive
type DriveFile struct {
	FileID      string `json:"fileId"`
	FolderID    string `json:"folderId,omitempty"`
	WebViewLink string `json:"webViewLink,omitempty"`
}

// ExportPDF renders the translated text to a PDF and returns the payload
func (s *Service) ExportPDF(ctx context.Context, req ExportRequest) (*ExportedFile, error) {
	return s.exportFile(ctx, "/export/pdf", req, "application/pdf")
}

// ExportDocx renders the translated text to a DOCX and returns the payload
func (s *Service) ExportDocx(ctx context.Context, req ExportRequest) (*ExportedFile, error) {
	return s.exportFile(ctx, "/export/docx",
		req, "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
}

// ExportToDriveAsPDF saves a PDF rendition to the user's cloud drive
func (s *Service) ExportToDriveAsPDF(ctx context.Context, req ExportRequest) (*DriveFile, error) {
	req.SaveToGoogleDrive = true
	return s.exportDrive(ctx, "/export/pdf", req)
}

// ExportToDriveAsDocx saves a DOCX rendition to the user's cloud drive
func (s *Service) ExportToDriveAsDocx(ctx context.Context, req ExportRequest) (*DriveFile, error) {
	req.SaveToGoogleDrive = true
	return s.exportDrive(ctx, "/export/docx", req)
}

func (s *Service) validateExport(req ExportRequest) error {
	if req.Text == "" {
		return apperrors.ValidationError("nothing to export")
	}
	if req.FileName == "" {
		return apperrors.ValidationError("an export file name is required")
	}
	return nil
}

func (s *Service) exportFile(ctx context.Context, path string, req ExportRequest, fallbackType string) (*ExportedFile, error) {
	if err := s.validateExport(req); err != nil {
		return nil, err
	}

	return apperrors.WithAuthRetry(ctx, s.refresh, func(ctx context.Context) (*ExportedFile, error) {
		resp, err := s.doExport(ctx, path, req)
		if err != nil {
			return nil, err
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = fallbackType
		}
		return &ExportedFile{
			Data:        resp.Body,
			ContentType: contentType,
			FileName:    req.FileName,
		}, nil
	})
}

func (s *Service) exportDrive(ctx context.Context, path string, req ExportRequest) (*DriveFile, error) {
	if err := s.validateExport(req); err != nil {
		return nil, err
	}

	return apperrors.WithAuthRetry(ctx, s.refresh, func(ctx context.Context) (*DriveFile, error) {
		resp, err := s.doExport(ctx, path, req)
		if err != nil {
			return nil, err
		}

		var file DriveFile
		if err := resp.Decode(&file); err != nil {
			return nil, err
		}
		return &file, nil
	})
}

// doExport performs the POST and maps error statuses. The server-provided
// message wins over the generic fallback when present.
func (s *Service) doExport(ctx context.Context, path string, req ExportRequest) (*httpclient.Response, error) {
	resp, err := s.api.Do(ctx, http.MethodPost, path,
		httpclient.WithJSON(req),
		httpclient.WithTimeout(exportTimeout),
	)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperrors.Unauthorized(resp.ServerMessage())
	case !resp.OK():
		msg := resp.ServerMessage()
		if msg == "" {
			msg = "export failed, please try again"
		}
		return nil, apperrors.ExportError(msg)
	}
	return resp, nil
}
