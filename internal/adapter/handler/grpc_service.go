package handler

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rl1809/order-stream/internal/core/domain"
)

const (
	orderServiceName        = "orderstream.v1.OrderService"
	orderServiceCreateOrder = "/" + orderServiceName + "/CreateOrder"
	orderServiceFulfill     = "/" + orderServiceName + "/Fulfill"
	orderServiceInventory   = "/" + orderServiceName + "/Inventory"
	orderServiceStream      = "/" + orderServiceName + "/Stream"
)

type CreateOrderRequest struct {
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	Lines          []domain.LineRequest `json:"lines"`
}

type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
}

type FulfillRequest struct {
	DisplayCode string `json:"display_code"`
}

type FulfillResponse struct {
	Order domain.Order        `json:"order"`
	Stock []domain.StockLevel `json:"stock"`
}

type InventoryRequest struct{}

type StreamRequest struct{}

type StreamMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error)
	Fulfill(context.Context, *FulfillRequest) (*FulfillResponse, error)
	Inventory(context.Context, *InventoryRequest) (*domain.InventorySnapshot, error)
	Stream(*StreamRequest, grpc.ServerStreamingServer[StreamMessage]) error
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: createOrderHandler},
		{MethodName: "Fulfill", Handler: fulfillHandler},
		{MethodName: "Inventory", Handler: inventoryHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ServerStreams: true},
	},
	Metadata: "orderstream/v1/order_service.proto",
}

func createOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: orderServiceCreateOrder}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).CreateOrder(ctx, req.(*CreateOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fulfillHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FulfillRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).Fulfill(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: orderServiceFulfill}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).Fulfill(ctx, req.(*FulfillRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func inventoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InventoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).Inventory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: orderServiceInventory}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).Inventory(ctx, req.(*InventoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OrderServiceServer).Stream(in, &grpc.GenericServerStream[StreamRequest, StreamMessage]{ServerStream: stream})
}

// OrderServiceClient calls the order service using the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	out := new(CreateOrderResponse)
	if err := c.cc.Invoke(ctx, orderServiceCreateOrder, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) Fulfill(ctx context.Context, in *FulfillRequest, opts ...grpc.CallOption) (*FulfillResponse, error) {
	out := new(FulfillResponse)
	if err := c.cc.Invoke(ctx, orderServiceFulfill, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) Inventory(ctx context.Context, in *InventoryRequest, opts ...grpc.CallOption) (*domain.InventorySnapshot, error) {
	out := new(domain.InventorySnapshot)
	if err := c.cc.Invoke(ctx, orderServiceInventory, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) Stream(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StreamMessage], error) {
	stream, err := c.cc.NewStream(ctx, &OrderServiceDesc.Streams[0], orderServiceStream, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[StreamRequest, StreamMessage]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
