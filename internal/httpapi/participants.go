package httpapi

import (
	"net/http"

	"esign-platform/internal/document"
	"esign-platform/internal/lifecycle"

	"github.com/gin-gonic/gin"
)

type signerRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	OrderIndex *int   `json:"order_index"`
}

func (r signerRequest) input() lifecycle.SignerInput {
	return lifecycle.SignerInput{Email: r.Email, Name: r.Name, OrderIndex: r.OrderIndex}
}

func (h Handlers) AddSigner(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req signerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sg, err := h.Lifecycle.AddSigner(c.Request.Context(), owner.ID, c.Param("id"), req.input(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sg)
}

func (h Handlers) UpdateSigner(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req signerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sg, err := h.Lifecycle.UpdateSigner(c.Request.Context(), owner.ID, c.Param("id"), c.Param("signer_id"), req.input(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sg)
}

func (h Handlers) RemoveSigner(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	if err := h.Lifecycle.RemoveSigner(c.Request.Context(), owner.ID, c.Param("id"), c.Param("signer_id"), actorFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type fieldRequest struct {
	Type     string  `json:"type"`
	SignerID string  `json:"signer_id"`
	Page     int     `json:"page"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	Value    string  `json:"value"`
	Required *bool   `json:"required"`

	FontSize   int    `json:"font_size"`
	FontFamily string `json:"font_family"`
	DateFormat string `json:"date_format"`
}

func (r fieldRequest) input() lifecycle.FieldInput {
	return lifecycle.FieldInput{
		Type:       document.FieldType(r.Type),
		SignerID:   r.SignerID,
		Page:       r.Page,
		X:          r.X,
		Y:          r.Y,
		W:          r.W,
		H:          r.H,
		Value:      r.Value,
		Required:   r.Required,
		FontSize:   r.FontSize,
		FontFamily: r.FontFamily,
		DateFormat: r.DateFormat,
	}
}

func (h Handlers) AddField(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req fieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	f, err := h.Lifecycle.AddField(c.Request.Context(), owner.ID, c.Param("id"), req.input(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h Handlers) UpdateField(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req fieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	f, err := h.Lifecycle.UpdateField(c.Request.Context(), owner.ID, c.Param("id"), c.Param("field_id"), req.input(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h Handlers) DeleteField(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	if err := h.Lifecycle.DeleteField(c.Request.Context(), owner.ID, c.Param("id"), c.Param("field_id"), actorFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
