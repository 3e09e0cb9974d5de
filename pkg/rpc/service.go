package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// SlurmdLaunchClient is the Per-Node Launch Worker's view of one
// slurmd peer: the launch RPC and the reattach RPC, both synchronous
// request/reply exchanges bounded by the caller's context deadline
// (msg_timeout).
type SlurmdLaunchClient interface {
	LaunchTasks(ctx context.Context, req *LaunchTasksRequest, opts ...grpc.CallOption) (*LaunchTasksResponse, error)
	ReattachTasks(ctx context.Context, req *LaunchTasksRequest, opts ...grpc.CallOption) (*ReattachTasksResponse, error)
}

// SlurmdLaunchServer is the slurmd-side contract; in this module it is
// implemented only by the demo harness's fake slurmd (the real node
// daemon is an external collaborator, spec §1).
type SlurmdLaunchServer interface {
	LaunchTasks(ctx context.Context, req *LaunchTasksRequest) (*LaunchTasksResponse, error)
	ReattachTasks(ctx context.Context, req *LaunchTasksRequest) (*ReattachTasksResponse, error)
}

type slurmdLaunchClient struct {
	cc grpc.ClientConnInterface
}

// NewSlurmdLaunchClient wraps an established connection to one
// slurmd peer.
func NewSlurmdLaunchClient(cc grpc.ClientConnInterface) SlurmdLaunchClient {
	return &slurmdLaunchClient{cc: cc}
}

func (c *slurmdLaunchClient) LaunchTasks(ctx context.Context, req *LaunchTasksRequest, opts ...grpc.CallOption) (*LaunchTasksResponse, error) {
	out := new(LaunchTasksResponse)
	if err := c.cc.Invoke(ctx, "/tasklaunch.SlurmdLaunch/LaunchTasks", req, out, append(callOptions(), opts...)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *slurmdLaunchClient) ReattachTasks(ctx context.Context, req *LaunchTasksRequest, opts ...grpc.CallOption) (*ReattachTasksResponse, error) {
	out := new(ReattachTasksResponse)
	if err := c.cc.Invoke(ctx, "/tasklaunch.SlurmdLaunch/ReattachTasks", req, out, append(callOptions(), opts...)...); err != nil {
		return nil, err
	}
	return out, nil
}

func slurmdLaunchHandlerLaunchTasks(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LaunchTasksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SlurmdLaunchServer).LaunchTasks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tasklaunch.SlurmdLaunch/LaunchTasks"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SlurmdLaunchServer).LaunchTasks(ctx, req.(*LaunchTasksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func slurmdLaunchHandlerReattachTasks(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LaunchTasksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SlurmdLaunchServer).ReattachTasks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tasklaunch.SlurmdLaunch/ReattachTasks"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SlurmdLaunchServer).ReattachTasks(ctx, req.(*LaunchTasksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SlurmdLaunchServiceDesc is registered on a *grpc.Server hosting a
// fake slurmd peer for tests and the demo harness.
var SlurmdLaunchServiceDesc = grpc.ServiceDesc{
	ServiceName: "tasklaunch.SlurmdLaunch",
	HandlerType: (*SlurmdLaunchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LaunchTasks", Handler: slurmdLaunchHandlerLaunchTasks},
		{MethodName: "ReattachTasks", Handler: slurmdLaunchHandlerReattachTasks},
	},
}

// SlurmdCallbackServer is the Message Handler helper's contract: the
// reply-receiving side of the protocol table in spec §4.6. Every
// accepted call is implemented by pkg/msghandler.
type SlurmdCallbackServer interface {
	DeliverLaunchResponse(ctx context.Context, resp *LaunchTasksResponse) (*Ack, error)
	DeliverReattachResponse(ctx context.Context, resp *ReattachTasksResponse) (*Ack, error)
	DeliverTaskExit(ctx context.Context, exit *TaskExit) (*Ack, error)
	DeliverPing(ctx context.Context, ping *Ping) (*PingReply, error)
	DeliverTimeout(ctx context.Context, timeout *Timeout) (*Ack, error)
	DeliverNodeFail(ctx context.Context, fail *NodeFail) (*Ack, error)
}

// SlurmdCallbackClient is the peer-side sender used by the demo
// harness's fake slurmd to exercise the helper's callback listener end
// to end.
type SlurmdCallbackClient interface {
	DeliverLaunchResponse(ctx context.Context, resp *LaunchTasksResponse, opts ...grpc.CallOption) (*Ack, error)
	DeliverReattachResponse(ctx context.Context, resp *ReattachTasksResponse, opts ...grpc.CallOption) (*Ack, error)
	DeliverTaskExit(ctx context.Context, exit *TaskExit, opts ...grpc.CallOption) (*Ack, error)
	DeliverPing(ctx context.Context, ping *Ping, opts ...grpc.CallOption) (*PingReply, error)
	DeliverTimeout(ctx context.Context, timeout *Timeout, opts ...grpc.CallOption) (*Ack, error)
	DeliverNodeFail(ctx context.Context, fail *NodeFail, opts ...grpc.CallOption) (*Ack, error)
}

type slurmdCallbackClient struct {
	cc grpc.ClientConnInterface
}

// NewSlurmdCallbackClient wraps a connection to the Message Handler's
// callback listener.
func NewSlurmdCallbackClient(cc grpc.ClientConnInterface) SlurmdCallbackClient {
	return &slurmdCallbackClient{cc: cc}
}

func (c *slurmdCallbackClient) invoke(ctx context.Context, method string, req, out interface{}, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, method, req, out, append(callOptions(), opts...)...)
}

func (c *slurmdCallbackClient) DeliverLaunchResponse(ctx context.Context, resp *LaunchTasksResponse, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "/tasklaunch.SlurmdCallback/DeliverLaunchResponse", resp, out, opts)
}

func (c *slurmdCallbackClient) DeliverReattachResponse(ctx context.Context, resp *ReattachTasksResponse, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "/tasklaunch.SlurmdCallback/DeliverReattachResponse", resp, out, opts)
}

func (c *slurmdCallbackClient) DeliverTaskExit(ctx context.Context, exit *TaskExit, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "/tasklaunch.SlurmdCallback/DeliverTaskExit", exit, out, opts)
}

func (c *slurmdCallbackClient) DeliverPing(ctx context.Context, ping *Ping, opts ...grpc.CallOption) (*PingReply, error) {
	out := new(PingReply)
	return out, c.invoke(ctx, "/tasklaunch.SlurmdCallback/DeliverPing", ping, out, opts)
}

func (c *slurmdCallbackClient) DeliverTimeout(ctx context.Context, timeout *Timeout, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "/tasklaunch.SlurmdCallback/DeliverTimeout", timeout, out, opts)
}

func (c *slurmdCallbackClient) DeliverNodeFail(ctx context.Context, fail *NodeFail, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "/tasklaunch.SlurmdCallback/DeliverNodeFail", fail, out, opts)
}

func callbackHandler[Req any, Resp any](call func(SlurmdCallbackServer, context.Context, *Req) (*Resp, error), method string) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SlurmdCallbackServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SlurmdCallbackServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SlurmdCallbackServiceDesc is registered on the Message Handler
// helper's *grpc.Server.
var SlurmdCallbackServiceDesc = grpc.ServiceDesc{
	ServiceName: "tasklaunch.SlurmdCallback",
	HandlerType: (*SlurmdCallbackServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DeliverLaunchResponse", Handler: callbackHandler(SlurmdCallbackServer.DeliverLaunchResponse, "/tasklaunch.SlurmdCallback/DeliverLaunchResponse")},
		{MethodName: "DeliverReattachResponse", Handler: callbackHandler(SlurmdCallbackServer.DeliverReattachResponse, "/tasklaunch.SlurmdCallback/DeliverReattachResponse")},
		{MethodName: "DeliverTaskExit", Handler: callbackHandler(SlurmdCallbackServer.DeliverTaskExit, "/tasklaunch.SlurmdCallback/DeliverTaskExit")},
		{MethodName: "DeliverPing", Handler: callbackHandler(SlurmdCallbackServer.DeliverPing, "/tasklaunch.SlurmdCallback/DeliverPing")},
		{MethodName: "DeliverTimeout", Handler: callbackHandler(SlurmdCallbackServer.DeliverTimeout, "/tasklaunch.SlurmdCallback/DeliverTimeout")},
		{MethodName: "DeliverNodeFail", Handler: callbackHandler(SlurmdCallbackServer.DeliverNodeFail, "/tasklaunch.SlurmdCallback/DeliverNodeFail")},
	},
}
