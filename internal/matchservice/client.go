package matchservice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the match service over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	return decode(out, resp)
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest, opts ...grpc.CallOption) (EvaluateResponse, error) {
	var resp EvaluateResponse
	err := c.invoke(ctx, "Evaluate", req, &resp, opts...)
	return resp, err
}

func (c *Client) EvaluateAll(ctx context.Context, req EvaluateAllRequest, opts ...grpc.CallOption) (EvaluateAllResponse, error) {
	var resp EvaluateAllResponse
	err := c.invoke(ctx, "EvaluateAll", req, &resp, opts...)
	return resp, err
}

func (c *Client) Build(ctx context.Context, req BuildRequest, opts ...grpc.CallOption) (BuildResponse, error) {
	var resp BuildResponse
	err := c.invoke(ctx, "Build", req, &resp, opts...)
	return resp, err
}

func (c *Client) GetTree(ctx context.Context, req GetTreeRequest, opts ...grpc.CallOption) (GetTreeResponse, error) {
	var resp GetTreeResponse
	err := c.invoke(ctx, "GetTree", req, &resp, opts...)
	return resp, err
}
