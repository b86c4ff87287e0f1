package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for memory observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrEmbedPurpose    = attribute.Key("embedding.purpose")
	AttrEmbedDimensions = attribute.Key("embedding.dimensions")

	AttrMemoryOp = attribute.Key("memory.op")
	AttrUserID   = attribute.Key("memory.user_id")
)
