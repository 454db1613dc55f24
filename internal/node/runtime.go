package node

import (
	"context"

	"github.com/google/uuid"
	"github.com/vk/mellongo/internal/devicecache"
	"github.com/vk/mellongo/internal/registry"
)

// runtime is the registry.Runtime a compute function receives.
type runtime struct {
	inst     *Instance
	progress ProgressFunc
}

var _ registry.Runtime = (*runtime)(nil)

func (r *runtime) NodeID() string { return r.inst.id }
func (r *runtime) Device() string { return r.inst.device }

func (r *runtime) direct() bool { return r.inst.id == "" }

// scoped prefixes id with the node id, generating a short id when empty.
func (r *runtime) scoped(id string) string {
	if id == "" {
		id = uuid.NewString()[:8]
	}
	return r.inst.id + "." + id
}

func (r *runtime) Register(ctx context.Context, obj any, id, device string, priority int) (registry.Ownership, error) {
	if r.direct() {
		return registry.Ownership{}, nil
	}
	cache := r.inst.cache
	scoped := r.scoped(id)
	if id != "" && cache.IsCached(scoped) {
		if err := cache.Update(ctx, scoped, obj, priority, true); err != nil {
			return registry.Ownership{}, err
		}
		return registry.Ownership{ResourceID: scoped, NodeID: r.inst.id}, nil
	}
	scoped = cache.Register(obj, scoped, device, priority)
	o := registry.Ownership{ResourceID: scoped, NodeID: r.inst.id}
	r.inst.own(o)
	return o, nil
}

func (r *runtime) Resource(id string) any {
	obj, _ := r.inst.cache.Get(id)
	return obj
}

func (r *runtime) Load(ctx context.Context, id, device string) (any, error) {
	if device == "" {
		device = r.inst.device
	}
	return r.inst.cache.Load(ctx, id, device)
}

func (r *runtime) Unload(ctx context.Context, id string) (any, error) {
	return r.inst.cache.Unload(ctx, id)
}

func (r *runtime) Update(ctx context.Context, id string, obj any, priority int) error {
	return r.inst.cache.Update(ctx, id, obj, priority, true)
}

func (r *runtime) Infer(ctx context.Context, device string, fn func() (any, error), exclude ...string) (any, error) {
	if device == "" {
		device = r.inst.device
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := fn()
		if err == nil {
			return out, nil
		}
		if !devicecache.IsResourceExhausted(err) {
			return nil, err
		}
		evicted, evictErr := r.inst.cache.EvictNext(ctx, device, exclude...)
		if evictErr != nil {
			return nil, evictErr
		}
		if !evicted {
			return nil, err
		}
		r.inst.logger.Debug("Device exhausted during inference, evicted one resource and retrying.", "device", device)
	}
}

func (r *runtime) FlashLoad(ctx context.Context, obj any, id, device string, priority int) (any, error) {
	if r.direct() {
		return obj, nil
	}
	if device == "" {
		device = r.inst.device
	}
	return r.inst.cache.FlashLoad(ctx, obj, r.scoped(id), device, priority)
}

func (r *runtime) Progress(percent int) {
	if r.progress != nil {
		r.progress(percent)
	}
}
