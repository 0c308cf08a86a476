package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
)

type createInvoiceRequest struct {
	InvoiceNumber  string                    `json:"invoiceNumber"`
	InvoiceType    string                    `json:"invoiceType"`
	ProjectID      string                    `json:"projectId"`
	CommissionerID int64                     `json:"commissionerId"`
	FreelancerID   int64                     `json:"freelancerId"`
	Currency       string                    `json:"currency"`
	Milestones     []invoicedomain.Milestone `json:"milestones"`
	DueDate        *time.Time                `json:"dueDate"`
	Send           bool                      `json:"send"`
}

type transitionInvoiceRequest struct {
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

func (s *Server) ListInvoices(c *gin.Context) {
	req := invoicedomain.ListInvoiceRequest{
		ProjectID: strings.TrimSpace(c.Query("project_id")),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := invoicedomain.ParseStatus(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		t := invoicedomain.Type(raw)
		req.Type = &t
	}

	items, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inv, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		InvoiceNumber:  req.InvoiceNumber,
		InvoiceType:    invoicedomain.Type(strings.TrimSpace(req.InvoiceType)),
		ProjectID:      req.ProjectID,
		CommissionerID: req.CommissionerID,
		FreelancerID:   req.FreelancerID,
		Currency:       req.Currency,
		Milestones:     req.Milestones,
		DueDate:        req.DueDate,
		Send:           req.Send,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": inv})
}

func (s *Server) GetInvoice(c *gin.Context) {
	number, ok := invoiceNumberParam(c)
	if !ok {
		return
	}

	inv, err := s.invoiceSvc.Get(c.Request.Context(), number)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

// ChargeInvoice makes the first automatic charge of a sent auto_milestone invoice.
func (s *Server) ChargeInvoice(c *gin.Context) {
	number, ok := invoiceNumberParam(c)
	if !ok {
		return
	}

	attempt, err := s.autopay.AttemptInitial(c.Request.Context(), number)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": attempt})
}

// RetryInvoicePayment charges an on_hold invoice right away regardless of its
// retry schedule or exhausted attempts.
func (s *Server) RetryInvoicePayment(c *gin.Context) {
	number, ok := invoiceNumberParam(c)
	if !ok {
		return
	}

	attempt, err := s.autopay.RetryNow(c.Request.Context(), number)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": attempt})
}

func (s *Server) TransitionInvoice(c *gin.Context) {
	number, ok := invoiceNumberParam(c)
	if !ok {
		return
	}

	var req transitionInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status, err := invoicedomain.ParseStatus(req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	var inv invoicedomain.Invoice
	if status == invoicedomain.StatusPaid {
		inv, err = s.invoiceSvc.MarkPaid(ctx, number, req.Reference)
	} else {
		inv, err = s.invoiceSvc.Transition(ctx, number, status, strings.TrimSpace(req.Reason))
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func invoiceNumberParam(c *gin.Context) (string, bool) {
	number := strings.TrimSpace(c.Param("number"))
	if number == "" {
		AbortWithError(c, newValidationError("invoice_number", "invalid_invoice_number", "invalid invoice number"))
		return "", false
	}
	return number, true
}
