package app

import (
	"github.com/vk/mellongo/internal/device"
	"github.com/vk/mellongo/internal/registry"
	"github.com/vk/mellongo/modules/image"
	"github.com/vk/mellongo/modules/model"
	"github.com/vk/mellongo/modules/remote"
	"github.com/vk/mellongo/modules/text"
)

// coreModules is the definitive list of all modules that are compiled into
// the mellon binary. Model actions allocate their weights from pool.
func coreModules(pool *device.Pool) []registry.Module {
	return []registry.Module{
		&text.Module{},
		&image.Module{},
		&model.Module{Pool: pool},
		&remote.Module{},
	}
}
