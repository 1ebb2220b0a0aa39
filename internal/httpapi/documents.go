package httpapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"esign-platform/internal/lifecycle"

	"github.com/gin-gonic/gin"
)

// readUpload pulls the uploaded file out of a multipart form and enforces
// the configured size cap before buffering it.
func (h Handlers) readUpload(c *gin.Context, field string) (string, []byte, bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "multipart form with a file part required"})
		return "", nil, false
	}
	if h.MaxFileSize > 0 && fh.Size > h.MaxFileSize {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds the %d byte limit", h.MaxFileSize),
		})
		return "", nil, false
	}
	data, ok := readAll(c, fh)
	if !ok {
		return "", nil, false
	}
	return fh.Filename, data, true
}

func readAll(c *gin.Context, fh *multipart.FileHeader) ([]byte, bool) {
	f, err := fh.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable file part"})
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable file part"})
		return nil, false
	}
	return data, true
}

// CreateDocument accepts a multipart form: file plus title,
// self_sign_only, sequential_signing and an optional RFC3339 expires_at.
func (h Handlers) CreateDocument(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	filename, data, ok := h.readUpload(c, "file")
	if !ok {
		return
	}

	in := lifecycle.CreateDocumentInput{
		Title:    strings.TrimSpace(c.PostForm("title")),
		Filename: filename,
		Data:     data,
	}
	in.SelfSignOnly, _ = strconv.ParseBool(c.PostForm("self_sign_only"))
	in.SequentialSigning, _ = strconv.ParseBool(c.PostForm("sequential_signing"))

	if raw := strings.TrimSpace(c.PostForm("expires_at")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC3339"})
			return
		}
		in.ExpiresAt = &t
	}

	doc, err := h.Lifecycle.CreateDocument(c.Request.Context(), owner, in, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h Handlers) ListDocuments(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}

	limit, offset := 50, 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..200"})
			return
		}
		limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "offset must be >= 0"})
			return
		}
		offset = n
	}

	docs, total, err := h.Lifecycle.ListDocuments(c.Request.Context(), owner.ID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h Handlers) GetDocument(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	bundle, err := h.Lifecycle.GetDocument(c.Request.Context(), owner.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

type updateDocumentRequest struct {
	Title string `json:"title"`
}

func (h Handlers) UpdateDocument(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	doc, err := h.Lifecycle.UpdateTitle(c.Request.Context(), owner.ID, c.Param("id"), req.Title, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ReplaceFile swaps the uploaded binary of a draft.
func (h Handlers) ReplaceFile(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	filename, data, ok := h.readUpload(c, "file")
	if !ok {
		return
	}
	doc, err := h.Lifecycle.ReplaceFile(c.Request.Context(), owner.ID, c.Param("id"), filename, data, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h Handlers) DeleteDocument(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	if err := h.Lifecycle.DeleteDraft(c.Request.Context(), owner.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) SendDocument(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	res, err := h.Lifecycle.Send(c.Request.Context(), owner.ID, c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type voidDocumentRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) VoidDocument(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req voidDocumentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	doc, err := h.Lifecycle.Void(c.Request.Context(), owner.ID, c.Param("id"), req.Reason, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h Handlers) DownloadDocument(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	res, err := h.Lifecycle.Download(c.Request.Context(), owner.ID, c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Data(http.StatusOK, contentTypeFor(res.Filename), res.Data)
}

func (h Handlers) AuditTrail(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	entries, err := h.Lifecycle.AuditTrail(c.Request.Context(), owner.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h Handlers) VerifyAudit(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	report, err := h.Lifecycle.VerifyAudit(c.Request.Context(), owner.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h Handlers) GetCertificate(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	cert, rec, err := h.Lifecycle.Certificate(c.Request.Context(), owner.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificate": cert, "generated_at": rec.GeneratedAt})
}

func (h Handlers) VerifyCertificate(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	check, err := h.Lifecycle.VerifyCertificate(c.Request.Context(), owner.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}
