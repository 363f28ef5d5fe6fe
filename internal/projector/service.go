package projector

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

// Cache is the read-side state maintained from order events.
type Cache interface {
	MarkSeen(ctx context.Context, service, eventID string) (bool, error)
	Forget(ctx context.Context, service, eventID string) error
	AdvanceStatus(ctx context.Context, e redisx.StatusEntry) (bool, error)
	InvalidateSummaries(ctx context.Context, customerID, companyID string) error
}

// Service keeps the Redis order caches in line with the order event stream.
type Service struct {
	Cache       Cache
	ServiceName string
	Log         *zap.Logger
}

// HandleMessage is installed as the consumer handler.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// A message that cannot be decoded never will be; skip it.
		s.logger().Error("decode envelope", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	var apply func(context.Context) error
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			s.logger().Error("decode payload", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		apply = func(ctx context.Context) error {
			return s.project(ctx, redisx.StatusEntry{
				OrderID:    p.OrderID,
				Status:     p.Status,
				CustomerID: p.CustomerID,
				CompanyID:  p.CompanyID,
				UpdatedAt:  p.CreatedAt,
			})
		}
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			s.logger().Error("decode payload", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		apply = func(ctx context.Context) error {
			return s.project(ctx, redisx.StatusEntry{
				OrderID:    p.OrderID,
				Status:     p.To,
				CustomerID: p.CustomerID,
				CompanyID:  p.CompanyID,
				UpdatedAt:  p.ChangedAt,
			})
		}
	default:
		return nil
	}

	fresh, err := s.Cache.MarkSeen(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !fresh {
		return nil
	}
	if err := apply(ctx); err != nil {
		_ = s.Cache.Forget(ctx, s.ServiceName, env.EventID)
		return err
	}
	s.logger().Debug("event projected",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("order_id", env.CorrelationID))
	return nil
}

func (s *Service) project(ctx context.Context, e redisx.StatusEntry) error {
	written, err := s.Cache.AdvanceStatus(ctx, e)
	if err != nil {
		return fmt.Errorf("cache status %s: %w", e.OrderID, err)
	}
	if !written {
		// Events of one order arrive on two topics; an older one may come last.
		s.logger().Debug("stale status ignored", zap.String("order_id", e.OrderID), zap.String("status", e.Status.String()))
	}
	if err := s.Cache.InvalidateSummaries(ctx, e.CustomerID, e.CompanyID); err != nil {
		return fmt.Errorf("invalidate summaries %s: %w", e.OrderID, err)
	}
	return nil
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
