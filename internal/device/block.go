package device

import (
	"context"
	"fmt"
	"sync"
)

// Block is a fixed-size chunk of memory that lives on exactly one device at
// a time. It stands in for model weights and other heavy objects.
type Block struct {
	pool *Pool
	name string
	size uint64

	mu     sync.Mutex
	device string
}

// NewBlock creates a block resident on the host.
func (p *Pool) NewBlock(name string, size uint64) *Block {
	return &Block{pool: p, name: name, size: size, device: Host}
}

// MoveTo places the block on device. The target reservation is taken before
// the current one is released, so moving between two full devices fails.
func (b *Block) MoveTo(ctx context.Context, device string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == device {
		return nil
	}
	if err := b.pool.Reserve(device, b.size); err != nil {
		return err
	}
	b.pool.Release(b.device, b.size)
	b.device = device
	return nil
}

// Device returns the current placement.
func (b *Block) Device() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

func (b *Block) Name() string { return b.name }
func (b *Block) Size() uint64 { return b.size }

// Fingerprint identifies the block's contents independently of placement.
func (b *Block) Fingerprint() (string, bool) {
	return fmt.Sprintf("%s:%d", b.name, b.size), true
}
