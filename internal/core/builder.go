// Package core orders server interceptors independently of the order in
// which options were applied.
package core

import (
	"cmp"
	"slices"

	"google.golang.org/grpc"
)

// Slots of the interceptor chain. Lower values run first, so recovery wraps
// everything and rate limiting rejects before the handler is reached.
const (
	OrderRecovery  = 0
	OrderRequestID = 10
	OrderTracing   = 20
	OrderLogging   = 30
	OrderRateLimit = 40
	OrderCustom    = 100
)

type slot struct {
	order int
	seq   int
	ic    grpc.UnaryServerInterceptor
}

// Builder collects interceptors with their slot.
type Builder struct {
	slots []slot
}

// Add registers ic at order. Interceptors sharing a slot keep insertion
// order. A nil ic is ignored.
func (b *Builder) Add(order int, ic grpc.UnaryServerInterceptor) {
	if ic == nil {
		return
	}
	b.slots = append(b.slots, slot{order: order, seq: len(b.slots), ic: ic})
}

// Replace drops every interceptor at order and registers ic there instead.
func (b *Builder) Replace(order int, ic grpc.UnaryServerInterceptor) {
	b.slots = slices.DeleteFunc(b.slots, func(s slot) bool { return s.order == order })
	b.Add(order, ic)
}

// Build returns the interceptors sorted by slot.
func (b *Builder) Build() []grpc.UnaryServerInterceptor {
	sorted := slices.Clone(b.slots)
	slices.SortFunc(sorted, func(x, y slot) int {
		return cmp.Or(cmp.Compare(x.order, y.order), cmp.Compare(x.seq, y.seq))
	})
	out := make([]grpc.UnaryServerInterceptor, len(sorted))
	for i, s := range sorted {
		out[i] = s.ic
	}
	return out
}

// ServerOptions chains the built interceptors into grpc server options.
func (b *Builder) ServerOptions(chain func(...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor) []grpc.ServerOption {
	if ic := chain(b.Build()...); ic != nil {
		return []grpc.ServerOption{grpc.UnaryInterceptor(ic)}
	}
	return nil
}
