package inspect

import (
	"context"

	"github.com/Keksclan/tiercache/manager"
	"github.com/Keksclan/tiercache/storage"
	"google.golang.org/grpc"
)

// Client calls a remote tiercache.Inspect service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, name string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Stats(ctx context.Context) (manager.Stats, error) {
	resp, err := invoke[StatsResponse](ctx, c, "Stats", &StatsRequest{})
	if err != nil {
		return manager.Stats{}, err
	}
	return resp.Stats, nil
}

func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	resp, err := invoke[KeysResponse](ctx, c, "Keys", &KeysRequest{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// Get returns nil without error when the key is missing.
func (c *Client) Get(ctx context.Context, key string) (*storage.Entry, error) {
	resp, err := invoke[GetResponse](ctx, c, "Get", &GetRequest{Key: key})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.Entry, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := invoke[DeleteResponse](ctx, c, "Delete", &DeleteRequest{Key: key})
	return err
}

func (c *Client) Clear(ctx context.Context) error {
	_, err := invoke[ClearResponse](ctx, c, "Clear", &ClearRequest{})
	return err
}

// Invalidate drops every key derived from the entity and returns them.
func (c *Client) Invalidate(ctx context.Context, kind, id string) ([]string, error) {
	resp, err := invoke[InvalidateResponse](ctx, c, "Invalidate", &InvalidateRequest{Kind: kind, ID: id})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}
