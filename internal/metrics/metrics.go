package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the signing platform.
var (
	DocumentsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_documents_created_total",
			Help: "Total number of documents created",
		},
	)

	DocumentsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_documents_sent_total",
			Help: "Total number of documents sent for signing",
		},
	)

	DocumentsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_documents_completed_total",
			Help: "Total number of documents completed by all signers",
		},
	)

	DocumentsVoidedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_documents_voided_total",
			Help: "Total number of documents voided by their owner",
		},
	)

	DocumentsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_documents_expired_total",
			Help: "Total number of documents expired past their deadline",
		},
	)

	SignaturesAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_signatures_applied_total",
			Help: "Total number of signatures applied to fields",
		},
	)

	SignersDeclinedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_signers_declined_total",
			Help: "Total number of signers who declined to sign",
		},
	)

	CertificatesGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_certificates_generated_total",
			Help: "Total number of completion certificates generated",
		},
	)

	LedgerEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_ledger_entries_total",
			Help: "Total number of audit ledger entries appended",
		},
	)

	LedgerIntegrityFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "esign_ledger_integrity_failures_total",
			Help: "Total number of audit chain verifications that found tampering",
		},
	)

	SubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "esign_submit_duration_seconds",
			Help:    "Duration of signature submission transactions",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all Prometheus metrics.
func Register() {
	prometheus.MustRegister(DocumentsCreatedTotal)
	prometheus.MustRegister(DocumentsSentTotal)
	prometheus.MustRegister(DocumentsCompletedTotal)
	prometheus.MustRegister(DocumentsVoidedTotal)
	prometheus.MustRegister(DocumentsExpiredTotal)
	prometheus.MustRegister(SignaturesAppliedTotal)
	prometheus.MustRegister(SignersDeclinedTotal)
	prometheus.MustRegister(CertificatesGeneratedTotal)
	prometheus.MustRegister(LedgerEntriesTotal)
	prometheus.MustRegister(LedgerIntegrityFailuresTotal)
	prometheus.MustRegister(SubmitDuration)
}
