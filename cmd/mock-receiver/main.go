package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/signature"
	"github.com/Priya8975/recruit-webhooks/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// receiver is a subscriber endpoint for local testing. Every route checks
// the signature with WEBHOOK_SECRET before answering.
type receiver struct {
	secret   string
	logger   *slog.Logger
	received atomic.Int64
	rejected atomic.Int64
	flaky    atomic.Int64
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		logger.Warn("WEBHOOK_SECRET not set, every signature will be rejected")
	}

	rcv := &receiver{secret: secret, logger: logger}

	logger.Info("mock receiver starting", "port", port)
	logger.Info("  POST /webhook/success  -> 200 OK")
	logger.Info("  POST /webhook/slow     -> 200 OK (3s delay)")
	logger.Info("  POST /webhook/fail     -> 500 Error")
	logger.Info("  POST /webhook/flaky    -> 503 twice, then 200")
	logger.Info("  POST /webhook/throttle -> 429 Too Many Requests")
	logger.Info("  GET  /stats            -> request counts")

	if err := http.ListenAndServe(":"+port, rcv.routes()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (rcv *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/webhook", func(r chi.Router) {
		r.Use(rcv.verify)

		r.Post("/success", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
		})
		r.Post("/slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(3 * time.Second):
			case <-r.Context().Done():
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "received (slow)"})
		})
		r.Post("/fail", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		})
		r.Post("/flaky", func(w http.ResponseWriter, r *http.Request) {
			if rcv.flaky.Add(1)%3 != 0 {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "try again"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "received (flaky)"})
		})
		r.Post("/throttle", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "slow down"})
		})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int64{
			"received": rcv.received.Load(),
			"rejected": rcv.rejected.Load(),
		})
	})

	return r
}

// verify recomputes the HMAC over the raw body and rejects mismatches
// with 401.
func (rcv *receiver) verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		sig := r.Header.Get(worker.HeaderSignature)
		if !signature.Verify(body, rcv.secret, sig) {
			rcv.rejected.Add(1)
			rcv.logger.Warn("signature mismatch",
				"path", r.URL.Path,
				"event", r.Header.Get(worker.HeaderEvent),
				"subscription_id", r.Header.Get(worker.HeaderSubscription),
			)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}

		count := rcv.received.Add(1)
		rcv.logger.Info("webhook received",
			"n", count,
			"path", r.URL.Path,
			"event", r.Header.Get(worker.HeaderEvent),
			"subscription_id", r.Header.Get(worker.HeaderSubscription),
			"attempt", r.Header.Get(worker.HeaderAttempt),
			"bytes", len(body),
		)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
