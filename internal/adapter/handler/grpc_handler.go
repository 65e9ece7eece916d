package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/core/service"
	"github.com/rl1809/order-stream/internal/core/stream"
)

type GRPCHandler struct {
	orderService *service.OrderService
	channel      *stream.Channel
	log          *zap.Logger
}

func NewGRPCHandler(orderService *service.OrderService, channel *stream.Channel, log *zap.Logger) *GRPCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GRPCHandler{orderService: orderService, channel: channel, log: log}
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	code, err := h.orderService.CreateOrderOnce(ctx, req.IdempotencyKey, req.Lines)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateOrderResponse{OrderID: code}, nil
}

func (h *GRPCHandler) Fulfill(ctx context.Context, req *FulfillRequest) (*FulfillResponse, error) {
	result, err := h.orderService.Fulfill(ctx, req.DisplayCode)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FulfillResponse{Order: result.Order, Stock: result.Stock}, nil
}

func (h *GRPCHandler) Inventory(ctx context.Context, req *InventoryRequest) (*domain.InventorySnapshot, error) {
	snap, err := h.orderService.Inventory(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return snap, nil
}

func (h *GRPCHandler) Stream(req *StreamRequest, srv grpc.ServerStreamingServer[StreamMessage]) error {
	ctx := srv.Context()
	err := h.channel.Serve(ctx, grpcSink{srv: srv})
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, domain.ErrSubscriberOverflow) {
		return status.Error(codes.ResourceExhausted, "observer fell behind")
	}
	if err != nil {
		h.log.Info("grpc stream closed", zap.Error(err))
		return status.Error(codes.Unavailable, err.Error())
	}
	return nil
}

type grpcSink struct {
	srv grpc.ServerStreamingServer[StreamMessage]
}

func (s grpcSink) Send(ctx context.Context, msg stream.Message) error {
	return s.srv.Send(&StreamMessage{Event: msg.Event, Data: string(msg.Data)})
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, "order not found")
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, domain.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "store unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
