package report

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxBodyBytes caps the report-uri request body. Real reports are a
// few hundred bytes.
const maxBodyBytes = 64 * 1024

// Handler returns the report-uri endpoint: POST only, no auth (browsers
// cannot attach CSRF tokens to report-uri requests). Responses are 201
// on store, 200 on silent discard, 400 with a plain-text reason on bad
// input - never anything else.
func (p *Pipeline) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Throttle before touching the body: parsing attacker payloads is
		// the expensive part.
		if p.Throttled() {
			w.WriteHeader(http.StatusOK)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			p.metrics.IncReport(OutcomeRejected)
			http.Error(w, "Invalid CSP report - body unreadable.", http.StatusBadRequest)
			return
		}

		outcome, _, err := p.Ingest(r.Context(), body)
		if err != nil {
			var reject *RejectError
			if errors.As(err, &reject) {
				slog.Debug("rejecting CSP report",
					"reason", reject.Reason,
					"user_agent", r.UserAgent(),
				)
				http.Error(w, reject.Reason, http.StatusBadRequest)
				return
			}
			// Ingest only returns RejectErrors, but a 500 on this endpoint
			// is never acceptable.
			slog.Error("unexpected ingest error", "error", err)
			w.WriteHeader(http.StatusOK)
			return
		}

		if outcome == OutcomeStored {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
