// Package vathttp exposes declaration previews, downloads and job submission over HTTP.
package vathttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-vat/internal/platform/httpx"
)

// MountRoutes registers the VAT endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "export limit reached, retry later")
		}),
	)

	r.Route("/vat", func(vr chi.Router) {
		vr.Get("/schemas", h.handleSchemas)
		vr.Get("/declarations", h.handlePreview)
		vr.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Get("/declarations/xml", h.handleXML)
			gr.Get("/declarations/xlsx", h.handleXLSX)
			gr.Get("/declarations/csv", h.handleCSV)
			gr.Post("/declarations/jobs", h.handleEnqueue)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if company := strings.TrimSpace(r.URL.Query().Get("company_id")); company != "" {
		ip, err := httprate.KeyByIP(r)
		if err != nil {
			return "", err
		}
		return "company:" + company + ":" + ip, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
