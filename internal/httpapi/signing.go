package httpapi

import (
	"fmt"
	"net/http"

	"esign-platform/internal/signing"

	"github.com/gin-gonic/gin"
)

// Public signing routes. The :token path parameter is the signer's whole
// credential; no other authentication applies here.

func (h Handlers) SignerSession(c *gin.Context) {
	view, err := h.Signing.Session(c.Request.Context(), c.Param("token"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h Handlers) SignerDocument(c *gin.Context) {
	file, err := h.Signing.Document(c.Request.Context(), c.Param("token"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.Filename))
	c.Data(http.StatusOK, contentTypeFor(file.Filename), file.Data)
}

type submission struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

// submitRequest mirrors the public wire shape: drawn signatures and typed
// field values arrive as separate arrays but are applied as one batch.
type submitRequest struct {
	Signatures  []submission `json:"signatures"`
	FieldValues []submission `json:"field_values"`
}

func (r submitRequest) input() signing.SubmitInput {
	var in signing.SubmitInput
	for _, s := range r.Signatures {
		in.Submissions = append(in.Submissions, signing.FieldSubmission{FieldID: s.FieldID, Value: s.Value})
	}
	for _, s := range r.FieldValues {
		in.Submissions = append(in.Submissions, signing.FieldSubmission{FieldID: s.FieldID, Value: s.Value})
	}
	return in
}

func (h Handlers) SignerSubmit(c *gin.Context) {
	var req submitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	res, err := h.Signing.Submit(c.Request.Context(), c.Param("token"), req.input(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) SignerDecline(c *gin.Context) {
	var req declineRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	sg, err := h.Signing.Decline(c.Request.Context(), c.Param("token"), req.Reason, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sg)
}
