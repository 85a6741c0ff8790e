package api

import (
	"log"
	"net/http"
	"time"

	"github.com/example/md-checkout/internal/api/middleware"
	"github.com/example/md-checkout/internal/security"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handlers, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(withLogging)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/cart/secure", h.SecureCart)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Session(h.sessions))
			r.With(h.limiter.Limit(security.OpGetCart)).Get("/cart", h.GetCart)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Use(middleware.Session(h.sessions))
			r.Use(middleware.RequireCSRF(h.csrf))

			r.With(h.limiter.Limit(security.OpCheckout)).Group(func(r chi.Router) {
				r.Get("/", h.GetCheckout)
				r.Post("/init", h.InitCheckout)
				r.Post("/shipping", h.UpdateShipping)
				r.Post("/payment", h.UpdatePayment)
				r.Post("/email", h.UpdateContactEmail)
				r.Post("/consent", h.UpdateConsent)
				r.Post("/guest", h.UpdateGuestInfo)
				r.Post("/next", h.NextStep)
				r.Post("/previous", h.PreviousStep)
				r.Post("/reset", h.ResetCheckout)
			})
			r.With(h.limiter.Limit(security.OpPlaceOrder)).Post("/place", h.PlaceOrder)
		})
	})

	return r
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Printf("[API] %s %s %d %s (req=%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond), chimw.GetReqID(r.Context()))
	})
}
