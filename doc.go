// Package recall is a per-user conversational memory engine for LLM agents.
//
// It ingests user utterances, distils them into discrete facts with an LLM,
// reconciles those facts against prior knowledge (ADD / UPDATE / DELETE /
// NONE), and answers questions by blending short-term recency with long-term
// vector similarity before handing the context to a generator model.
//
// The root package holds the core types and orchestration: Engine (the memory
// engine), Pipeline (RAG), ShortTermBuffer, FactExtractor, and Reconciler.
// Backends live in subpackages: store/flat (persistent flat vector index),
// history/sqlite and history/postgres (mutation audit log), and
// provider/openaicompat (Generator + Embedder over any OpenAI-compatible
// API). The observer package adds OpenTelemetry instrumentation.
package recall
