package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/api/middleware"
	"github.com/angelmondragon/campusmart-backend/api/responses"
	"github.com/angelmondragon/campusmart-backend/internal/access"
	"github.com/angelmondragon/campusmart-backend/internal/events"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

const (
	defaultKeepAlive = 25 * time.Second
	clientRetryMS    = 3000
)

type eventSubscriber interface {
	Subscribe(ctx context.Context, topic string) (*events.Subscription, error)
}

// Stream serves order events as server-sent events. Every caller receives their own
// user topic. Staff also receive their shop topic, and admins may pass ?shop_id= to
// watch one shop. Events are change signals: clients refetch through the read API.
// A "resync" event is sent before the server drops a subscriber that fell behind.
func Stream(dist eventSubscriber, keepAlive time.Duration, logg *logger.Logger) http.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		topics, err := streamTopics(r, principal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		merged := make(chan events.Event)
		lost := make(chan string, len(topics))
		for _, topic := range topics {
			sub, err := dist.Subscribe(ctx, topic)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to events"))
				return
			}
			go forward(ctx, sub, merged, lost)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "retry: %d\nevent: ready\ndata: {\"topics\":%s}\n\n", clientRetryMS, mustJSON(topics))
		flusher.Flush()

		if logg != nil {
			logg.Info(logg.WithField(ctx, "topics", strings.Join(topics, ",")), "stream.open")
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		var seq int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case topic := <-lost:
				fmt.Fprintf(w, "event: resync\ndata: {\"topic\":%s}\n\n", mustJSON(topic))
				flusher.Flush()
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "topic", topic), "stream.subscriber_dropped")
				}
				return
			case evt := <-merged:
				seq++
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, evt.EventType, mustJSON(evt))
				flusher.Flush()
			}
		}
	}
}

func forward(ctx context.Context, sub *events.Subscription, out chan<- events.Event, lost chan<- string) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				if ctx.Err() == nil {
					lost <- sub.Topic()
				}
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

func streamTopics(r *http.Request, principal access.Principal) ([]string, error) {
	topics := []string{events.UserTopic(principal.UserID)}

	raw := strings.TrimSpace(r.URL.Query().Get("shop_id"))
	if raw == "" {
		if principal.ShopID != nil && principal.CanViewShop(*principal.ShopID) {
			topics = append(topics, events.ShopTopic(*principal.ShopID))
		}
		return topics, nil
	}

	shopID, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shop_id")
	}
	if !principal.CanViewShop(shopID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cannot watch this shop")
	}
	return append(topics, events.ShopTopic(shopID)), nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
