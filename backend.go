package sitefeed

import (
	"github.com/ripkitten-co/sitefeed/internal/codecs"
	"github.com/ripkitten-co/sitefeed/internal/pg"
	"github.com/ripkitten-co/sitefeed/schema"
)

type backend struct {
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// Backend is implemented by Store and Session. Event, checkpoint, and
// read-model stores are constructed from a Backend so the same code runs
// against the pool or inside a transaction.
type Backend interface {
	DBExecutor() pg.Executor
	JSONCodec() codecs.Codec
	SchemaBootstrap() *schema.Bootstrap
}
