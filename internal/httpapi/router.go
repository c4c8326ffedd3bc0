package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zann-project/zann/internal/access"
	"github.com/zann-project/zann/internal/repository"
	"github.com/zann-project/zann/internal/service"
)

// SystemInfo is the public payload of GET /v1/system/info.
type SystemInfo struct {
	ServerFingerprint string   `json:"server_fingerprint"`
	APIVersion        string   `json:"api_version"`
	AuthMethods       []string `json:"auth_methods"`
}

// Deps collects everything the router needs to construct handlers.
type Deps struct {
	Log            *zap.Logger
	Auth           service.AuthService
	Items          service.ItemService
	Access         *access.Evaluator
	Vaults         repository.VaultRepository
	Members        repository.MemberRepository
	Authenticator  *Authenticator
	OIDC           *service.OIDCVerifier // nil unless auth.mode is oidc or both
	MaxBodyBytes   int64
	SystemInfo     SystemInfo
}

// NewRouter builds the full chi router for the HTTP surface of spec.md §6.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(d.Log))
	r.Use(Logging(d.Log))
	r.Use(MaxBody(d.MaxBodyBytes))

	h := &handlers{d: d}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/system/info", h.systemInfo)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.Post("/logout", h.logout)
			r.Post("/service-account", h.serviceAccountLogin)
			r.Post("/oidc", h.oidcLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(d.Authenticator.Require)

			r.Get("/vaults", h.listVaults)
			r.Post("/vaults", h.createVault)

			r.Route("/vaults/{vaultID}/items", func(r chi.Router) {
				r.Get("/", h.listItems)
				r.Post("/", h.createItem)
				r.Route("/{itemID}", func(r chi.Router) {
					r.Get("/", h.getItem)
					r.Put("/", h.updateItem)
					r.Delete("/", h.deleteItem)
					r.Get("/versions", h.listHistory)
					r.Get("/history/{version}", h.getHistoryVersion)
					r.Post("/restore", h.restoreItem)
					r.Handle("/file", http.HandlerFunc(h.itemFile))
				})
			})

			r.Get("/vaults/{vaultID}/changes", h.changesSince)
		})
	})

	return r
}
