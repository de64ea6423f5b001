// Package api defines the HTTP request and response shapes of the KnowledgeFlow API.
//
// # API Overview
//
// KnowledgeFlow exposes:
//   - Chat over the knowledge base in rag or agent mode, as JSON, SSE or WebSocket
//   - Conversation management (list, create, delete, messages)
//   - Direct search in vector, metadata or hybrid mode
//   - The agent tool catalogue
//   - Health, readiness and version endpoints
//
// # Authentication
//
// When auth is enabled, requests carry either a bearer JWT or the X-API-Key header:
//
//	Authorization: Bearer <token>
//	X-API-Key: your-api-key
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// Prometheus metrics are served on a separate port (default 9091) at /metrics.
//
// # Response Envelope
//
// JSON endpoints wrap payloads as {"success", "data", "error", "timestamp"}.
// Streaming endpoints emit bare event objects, one per SSE data line or
// WebSocket text frame, and SSE ends with "data: [DONE]".
package api
