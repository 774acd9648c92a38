package commands

import (
	"context"
	"fmt"

	"github.com/Keksclan/tiercache/inspect"
	"github.com/Keksclan/tiercache/invalidate"
	"github.com/Keksclan/tiercache/manager"
	"github.com/Keksclan/tiercache/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// store is what every data command needs, served either by a local manager
// or by a remote inspection server.
type store interface {
	Stats(ctx context.Context) (manager.Stats, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) (*storage.Entry, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Invalidate(ctx context.Context, kind, id string) ([]string, error)
	Close(ctx context.Context) error
}

type localStore struct{ *manager.Manager }

func (l localStore) Get(ctx context.Context, key string) (*storage.Entry, error) {
	return l.GetEntry(ctx, key)
}

func (l localStore) Invalidate(ctx context.Context, kind, id string) ([]string, error) {
	return invalidate.Invalidate(ctx, l.Manager, invalidate.Kind(kind), id)
}

type remoteStore struct {
	*inspect.Client
	conn *grpc.ClientConn
}

func dialStore(addr string) (store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return remoteStore{Client: inspect.NewClient(conn), conn: conn}, nil
}

func (r remoteStore) Close(context.Context) error {
	return r.conn.Close()
}
