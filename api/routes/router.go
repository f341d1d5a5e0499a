package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/campusmart-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/campusmart-backend/api/controllers/orders"
	walletcontrollers "github.com/angelmondragon/campusmart-backend/api/controllers/wallet"
	"github.com/angelmondragon/campusmart-backend/api/middleware"
	"github.com/angelmondragon/campusmart-backend/internal/access"
	"github.com/angelmondragon/campusmart-backend/internal/coordinator"
	"github.com/angelmondragon/campusmart-backend/internal/events"
	"github.com/angelmondragon/campusmart-backend/internal/notifications"
	"github.com/angelmondragon/campusmart-backend/internal/query"
	"github.com/angelmondragon/campusmart-backend/internal/wallet"
	"github.com/angelmondragon/campusmart-backend/pkg/auth/session"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/redis"
)

// Store is the redis surface the router needs for idempotency replay and the
// order placement rate limit.
type Store interface {
	middleware.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (redis.WindowResult, error)
	Ping(ctx context.Context) error
}

type streamSource interface {
	Subscribe(ctx context.Context, topic string) (*events.Subscription, error)
}

// Dependencies groups everything NewRouter mounts.
type Dependencies struct {
	DB            controllers.Pinger
	Store         Store
	Revocations   session.RevocationChecker
	Coordinator   coordinator.Service
	Query         query.Service
	Wallet        wallet.Service
	Notifications notifications.Service
	Events        streamSource
	Gatherer      prometheus.Gatherer
	HTTPMetrics   *metrics.HTTPMetrics
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Store,
		}))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	opTimeout := cfg.Orders.OperationTimeout
	placePolicy := middleware.RateLimitPolicy{
		Name:   "place_order",
		Limit:  cfg.Orders.PlaceRateLimit,
		Window: cfg.Orders.PlaceRateWindow,
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Revocations, logg))

		r.Get("/stream", controllers.Stream(deps.Events, cfg.Eventing.StreamKeepAlive, logg))

		// Routes are registered flat so the idempotency middleware sees the full pattern.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Idempotency(deps.Store, logg))

			r.With(
				middleware.RequireCapability(logg, access.CapPlaceOrder),
				middleware.UserRateLimit(placePolicy, deps.Store, logg),
			).Post("/orders", ordercontrollers.Place(deps.Coordinator, opTimeout, logg))
			r.Get("/orders", ordercontrollers.MyHistory(deps.Query, logg))
			r.Get("/orders/active", ordercontrollers.MyActive(deps.Query, logg))
			r.Get("/orders/{orderId}", ordercontrollers.Detail(deps.Query, logg))
			r.With(middleware.RequireCapability(logg, access.CapAdvanceShopOrder)).
				Post("/orders/{orderId}/status", ordercontrollers.Transition(deps.Coordinator, opTimeout, logg))
			r.With(middleware.RequireCapability(logg, access.CapCancelOwnPending, access.CapCancelShopOrder)).
				Post("/orders/{orderId}/cancel", ordercontrollers.Cancel(deps.Coordinator, opTimeout, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability(logg, access.CapViewShopOrders))
				r.Get("/shops/{shopId}/orders/active", ordercontrollers.ShopActive(deps.Query, logg))
				r.Get("/shops/{shopId}/orders/history", ordercontrollers.ShopHistory(deps.Query, logg))
				r.Get("/shops/{shopId}/stats", ordercontrollers.ShopStats(deps.Query, logg))
			})

			r.Get("/wallet", walletcontrollers.Balance(deps.Wallet, logg))
			r.Get("/wallet/transactions", walletcontrollers.Transactions(deps.Wallet, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability(logg, access.CapViewAnyWallet))
				r.Get("/admin/wallets/{userId}", walletcontrollers.AdminWallet(deps.Wallet, logg))
				r.Get("/admin/wallets/{userId}/transactions", walletcontrollers.AdminTransactions(deps.Wallet, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability(logg, access.CapAdjustWallet))
				r.Post("/admin/wallets/{userId}/credit", walletcontrollers.AdminCredit(deps.Wallet, opTimeout, logg))
				r.Post("/admin/wallets/{userId}/debit", walletcontrollers.AdminDebit(deps.Wallet, opTimeout, logg))
			})

			r.Get("/notifications", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/notifications/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.Post("/notifications/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})
	})

	return r
}
