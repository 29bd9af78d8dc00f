package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mivvo/expertiz/internal/providers/pdf"
	reportdomain "github.com/mivvo/expertiz/internal/report/domain"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"go.uber.org/zap"
)

type startReportRequest struct {
	ReportType   string `json:"report_type" binding:"required"`
	VehiclePlate string `json:"vehicle_plate"`
	VehicleBrand string `json:"vehicle_brand" binding:"required"`
	VehicleModel string `json:"vehicle_model" binding:"required"`
	VehicleYear  int    `json:"vehicle_year" binding:"required"`
	VehicleColor string `json:"vehicle_color"`
	Mileage      int    `json:"mileage"`
}

func (s *Server) StartReport(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req startReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reportSvc.Start(c.Request.Context(), reportdomain.StartRequest{
		UserID:       userID,
		ReportType:   reportdomain.ReportType(req.ReportType),
		VehiclePlate: req.VehiclePlate,
		VehicleBrand: req.VehicleBrand,
		VehicleModel: req.VehicleModel,
		VehicleYear:  req.VehicleYear,
		VehicleColor: req.VehicleColor,
		Mileage:      req.Mileage,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, report)
}

type listReportsQuery struct {
	Status string `form:"status"`
	pagination.Pagination
}

func (s *Server) ListReports(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listReportsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.reportSvc.List(c.Request.Context(), reportdomain.ListRequest{
		UserID: userID,
		Status: reportdomain.ReportStatus(query.Status),
		Page:   query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReport(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.reportSvc.Get(c.Request.Context(), userID, reportID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) ReportStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.reportSvc.Status(c.Request.Context(), userID, reportID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) UploadMedia(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.guard.Enabled() {
		result, guardErr := s.guard.AllowUpload(c.Request.Context(), userID.String())
		if guardErr != nil {
			s.log.Warn("upload rate limit unavailable", zap.Error(guardErr))
		} else if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			AbortWithError(c, ErrRateLimited)
			return
		}
	}

	if max := s.cfg.Limits.MaxUploadBodyBytes; max > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
	}

	file, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	src, err := file.Open()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	defer src.Close()

	item, err := s.reportSvc.AttachMedia(c.Request.Context(), reportdomain.AttachMediaRequest{
		UserID:      userID,
		ReportID:    reportID,
		Kind:        reportdomain.MediaKind(strings.TrimSpace(c.PostForm("kind"))),
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		SizeBytes:   file.Size,
		Content:     src,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

type analyzeResponse struct {
	Report         reportdomain.Report `json:"report"`
	CreditRefunded bool                `json:"credit_refunded"`
	RefundAmount   string              `json:"refund_amount,omitempty"`
}

func (s *Server) AnalyzeReport(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.reportSvc.Analyze(c.Request.Context(), userID, reportID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := analyzeResponse{
		Report:         result.Report,
		CreditRefunded: result.CreditRefunded,
	}
	if result.CreditRefunded {
		resp.RefundAmount = result.RefundAmount.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteReport(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.reportSvc.Delete(c.Request.Context(), userID, reportID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// resultDocument is the subset of the analysis payload the PDF renders.
type resultDocument struct {
	Summary  string `json:"summary"`
	Findings []struct {
		Title    string `json:"title"`
		Severity string `json:"severity"`
		Detail   string `json:"detail"`
	} `json:"findings"`
}

func (s *Server) ReportPDF(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.reportSvc.Get(c.Request.Context(), userID, reportID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if report.Status != reportdomain.StatusCompleted {
		AbortWithError(c, reportdomain.ErrInvalidStateTransition)
		return
	}

	owner, err := s.userSvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := pdf.ReportData{
		ReportNumber: report.ID.String(),
		ReportType:   strings.ReplaceAll(string(report.ReportType), "_", " "),
		GeneratedAt:  time.Now().UTC().Format("2006-01-02 15:04"),
		Status:       string(report.Status),
		OwnerName:    owner.FullName,
		OwnerEmail:   owner.Email,
		VehicleMake:  report.VehicleBrand,
		VehicleModel: report.VehicleModel,
		VehicleYear:  strconv.Itoa(report.VehicleYear),
		VehiclePlate: report.VehiclePlate,
		Mileage:      fmt.Sprintf("%d km", report.Mileage),
		CostCredits:  report.TotalCost.String(),
	}

	var doc resultDocument
	if len(report.ResultPayload) > 0 && json.Unmarshal(report.ResultPayload, &doc) == nil {
		data.Summary = doc.Summary
		for _, f := range doc.Findings {
			data.Findings = append(data.Findings, pdf.Finding{
				Title:    f.Title,
				Severity: f.Severity,
				Detail:   f.Detail,
			})
		}
	}

	document, err := s.pdfProvider.GenerateReport(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, ErrInternal)
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="report-`+report.ID.String()+`.pdf"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, document); err != nil {
		s.log.Warn("pdf stream interrupted", zap.Error(err))
	}
}
