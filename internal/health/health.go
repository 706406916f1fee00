// Package health serves liveness and readiness probes for the voice
// navigation service.
//
// /healthz reports process liveness and uptime. /readyz runs the registered
// probes (audit store connectivity, topic catalog loaded, speech providers
// constructed) and returns 503 until all of them pass, so a load balancer
// does not route browsers to an instance that cannot dispatch commands yet.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds how long a single readiness probe may run.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Run returns nil when the dependency is
// usable and an error describing the failure otherwise. It must respect
// context cancellation.
type Probe struct {
	Name string
	Run  func(ctx context.Context) error
}

type report struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Probes map[string]string `json:"probes,omitempty"`
}

// Handler evaluates readiness probes on demand. The probe list is fixed at
// construction time, so the handler is safe for concurrent use.
type Handler struct {
	started time.Time
	probes  []Probe
}

// New creates a [Handler] over the given probes. Probes run sequentially on
// each /readyz request, in the order given.
func New(probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{started: time.Now(), probes: p}
}

// Healthz always answers 200: a process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz answers 200 only when every probe passes, 503 otherwise. Each probe
// runs under a [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	probes := make(map[string]string, len(h.probes))
	ready := true

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Run(ctx)
		cancel()

		if err != nil {
			probes[p.Name] = "fail: " + err.Error()
			ready = false
		} else {
			probes[p.Name] = "ok"
		}
	}

	res := report{Status: "ok", Probes: probes}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
