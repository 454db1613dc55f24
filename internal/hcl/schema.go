package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot is the shape of a settings file. Every attribute is optional;
// pointer fields stay nil when the file leaves a value out.
type fileRoot struct {
	Server  *serverBlock  `hcl:"server,block"`
	Log     *logBlock     `hcl:"log,block"`
	App     *appBlock     `hcl:"app,block"`
	Devices []deviceBlock `hcl:"device,block"`
	Remain  hcl.Body      `hcl:",remain"`
}

type serverBlock struct {
	Host      *string `hcl:"host,optional"`
	Port      *int    `hcl:"port,optional"`
	CORS      *bool   `hcl:"cors,optional"`
	CORSRoute *string `hcl:"cors_route,optional"`
}

type logBlock struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

type appBlock struct {
	Workers         *int   `hcl:"workers,optional"`
	GlobalSeed      *int64 `hcl:"global_seed,optional"`
	QueueSize       *int   `hcl:"queue_size,optional"`
	HealthcheckPort *int   `hcl:"healthcheck_port,optional"`
}

type deviceBlock struct {
	Name    string  `hcl:"name,label"`
	Memory  *string `hcl:"memory,optional"`
	Default *bool   `hcl:"default,optional"`
}
