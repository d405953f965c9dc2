package catalog

import (
	"context"
	"os"
)

// Source yields the raw catalog document (JSON or YAML).
type Source interface {
	Load(ctx context.Context) ([]byte, error)
	Name() string
}

type FileSource struct {
	Path string
}

func (f FileSource) Load(context.Context) ([]byte, error) {
	return os.ReadFile(f.Path)
}

func (f FileSource) Name() string { return "file:" + f.Path }

// ObjectGetter is the slice of an object store the catalog needs.
type ObjectGetter interface {
	GetObjectBytes(ctx context.Context, key string) ([]byte, error)
}

type ObjectSource struct {
	Store ObjectGetter
	Key   string
}

func (o ObjectSource) Load(ctx context.Context) ([]byte, error) {
	return o.Store.GetObjectBytes(ctx, o.Key)
}

func (o ObjectSource) Name() string { return "object:" + o.Key }

// StaticSource serves an in-memory document.
type StaticSource []byte

func (s StaticSource) Load(context.Context) ([]byte, error) { return s, nil }

func (s StaticSource) Name() string { return "static" }
