package httpapi

import "net/http"

// systemInfo serves the public identity probe clients use to detect the
// server's identity and supported auth methods before any credentials are
// exchanged, per spec.md §6.
func (h *handlers) systemInfo(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.d.SystemInfo)
}
