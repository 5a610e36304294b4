package grpc

import (
	"context"

	"google.golang.org/grpc"

	"payflow/internal/model"
	"payflow/internal/service"
)

const PaymentServiceName = "payflow.v1.PaymentService"

const (
	topUpMethod    = "/" + PaymentServiceName + "/TopUp"
	withdrawMethod = "/" + PaymentServiceName + "/Withdraw"
)

type paymentCall func(service.PaymentService, context.Context, model.PaymentRequest) model.Result

// paymentServiceDesc describes payflow.v1.PaymentService. Business failures
// are returned in the Result body, not as gRPC status errors.
var paymentServiceDesc = grpc.ServiceDesc{
	ServiceName: PaymentServiceName,
	HandlerType: (*service.PaymentService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TopUp", Handler: paymentHandler(topUpMethod, service.PaymentService.TopUp)},
		{MethodName: "Withdraw", Handler: paymentHandler(withdrawMethod, service.PaymentService.Withdraw)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payflow/v1/payment.proto",
}

func paymentHandler(method string, call paymentCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(model.PaymentRequest)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			res := call(srv.(service.PaymentService), ctx, *req.(*model.PaymentRequest))
			return &res, nil
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, handler)
	}
}

// PaymentClient calls payflow.v1.PaymentService. It implements
// service.PaymentService, so callers can swap it for the engine.
type PaymentClient struct {
	cc grpc.ClientConnInterface
}

func NewPaymentClient(cc grpc.ClientConnInterface) *PaymentClient {
	return &PaymentClient{cc: cc}
}

func (c *PaymentClient) TopUp(ctx context.Context, req model.PaymentRequest) model.Result {
	return c.invoke(ctx, topUpMethod, req)
}

func (c *PaymentClient) Withdraw(ctx context.Context, req model.PaymentRequest) model.Result {
	return c.invoke(ctx, withdrawMethod, req)
}

func (c *PaymentClient) invoke(ctx context.Context, method string, req model.PaymentRequest) model.Result {
	var res model.Result
	if err := c.cc.Invoke(ctx, method, &req, &res, grpc.CallContentSubtype(codecName)); err != nil {
		return model.Result{
			Success: false,
			Error:   "Unknown error",
			Code:    service.CodeUnknown,
			Kind:    string(service.KindPersistence),
			Err:     err,
		}
	}
	return res
}
