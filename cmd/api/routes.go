package main

import (
	"esign-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW, limitMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/healthz/detailed", h.HealthzDetailed)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Signer routes (public). The access token in the path is the whole
	// credential, so these are rate limited per token.
	sign := r.Group("/sign")
	sign.Use(limitMW)
	{
		sign.GET("/:token", h.SignerSession)
		sign.GET("/:token/document", h.SignerDocument)
		sign.POST("/:token/submit", h.SignerSubmit)
		sign.POST("/:token/decline", h.SignerDecline)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		docs := v1.Group("/documents")
		{
			docs.POST("", h.CreateDocument)
			docs.GET("", h.ListDocuments)
			docs.GET("/:id", h.GetDocument)
			docs.PATCH("/:id", h.UpdateDocument)
			docs.DELETE("/:id", h.DeleteDocument)
			docs.PUT("/:id/file", h.ReplaceFile)
			docs.GET("/:id/download", h.DownloadDocument)

			docs.POST("/:id/signers", h.AddSigner)
			docs.PATCH("/:id/signers/:signer_id", h.UpdateSigner)
			docs.DELETE("/:id/signers/:signer_id", h.RemoveSigner)

			docs.POST("/:id/fields", h.AddField)
			docs.PUT("/:id/fields/:field_id", h.UpdateField)
			docs.DELETE("/:id/fields/:field_id", h.DeleteField)

			docs.POST("/:id/send", h.SendDocument)
			docs.POST("/:id/void", h.VoidDocument)

			docs.GET("/:id/audit", h.AuditTrail)
			docs.GET("/:id/audit/verify", h.VerifyAudit)
			docs.GET("/:id/certificate", h.GetCertificate)
			docs.GET("/:id/certificate/verify", h.VerifyCertificate)
		}

		reports := v1.Group("/reports")
		{
			reports.GET("/documents", h.DocumentsReport)
			reports.GET("/signers", h.SignersReport)
		}
	}
}
